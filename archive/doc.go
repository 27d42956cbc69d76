// Package archive keeps a durable copy of the last sandbox of every
// (module, user) pair.
//
// Each call to Store.Archive replaces the previous copy, so the store holds
// exactly one archived execution per pair. A manifest file named "source"
// records whether the copy came from an evaluation or an ad-hoc run, and
// under which identifier. When snapshots are enabled the archived tree is
// also packed as tar+zstd and handed to an Uploader such as MinIOUploader.
package archive
