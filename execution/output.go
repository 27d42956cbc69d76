package execution

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

const (
	// SecretMarker switches every following stdout line to the secret channel.
	SecretMarker = "#KSI_META_OUTPUT_0a859a#"
	// SecretPrefix routes a single stdout line to the secret channel.
	SecretPrefix = "#KSI_"

	// lineChunk bounds how much of a single line is held in memory.
	lineChunk = 4096

	truncatedSuffix = "\nOutput too long, stripped!\n"
)

// splitOutput copies stdoutPath into the visible outputPath and the hidden
// secretPath. The marker line itself is dropped.
func splitOutput(stdoutPath, outputPath, secretPath string) (err error) {
	in, err := os.Open(stdoutPath)
	if err != nil {
		return fmt.Errorf("failed to open stdout: %w", err)
	}
	defer in.Close()

	visible, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer closeInto(visible, &err)

	secret, err := os.Create(secretPath)
	if err != nil {
		return fmt.Errorf("failed to create secret: %w", err)
	}
	defer closeInto(secret, &err)

	vw := bufio.NewWriter(visible)
	sw := bufio.NewWriter(secret)

	r := bufio.NewReaderSize(in, lineChunk)
	markerFound := false
	for {
		line, readErr := r.ReadSlice('\n')
		if len(line) > 0 {
			s := string(line)
			switch {
			case strings.Contains(s, SecretMarker):
				markerFound = true
			case markerFound || strings.HasPrefix(strings.TrimSpace(s), SecretPrefix):
				if _, err := sw.WriteString(s); err != nil {
					return err
				}
			default:
				if _, err := vw.WriteString(s); err != nil {
					return err
				}
			}
		}
		if errors.Is(readErr, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return fmt.Errorf("failed to read stdout: %w", readErr)
		}
	}

	if err := vw.Flush(); err != nil {
		return err
	}
	return sw.Flush()
}

// participantStdout renders what the participant sees: the visible output,
// followed by stderr when the program failed, capped at maxLen bytes.
func participantStdout(outputPath, stderrPath string, failed bool, maxLen int) (string, error) {
	out, err := readCapped(outputPath, maxLen)
	if err != nil {
		return "", err
	}

	if failed {
		errOut, err := readCapped(stderrPath, maxLen)
		if err != nil {
			return "", err
		}
		out += "\n" + errOut
	}

	if len(out) >= maxLen {
		out = cutUTF8(out, maxLen) + truncatedSuffix
	}
	return out, nil
}

func readCapped(path string, maxLen int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(maxLen)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// cutUTF8 returns the prefix of s of at most n bytes, dropping a trailing
// incomplete multi-byte sequence.
func cutUTF8(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	i := len(s) - 1
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	if i >= 0 && !utf8.FullRuneInString(s[i:]) {
		s = s[:i]
	}
	return s
}

// appendFile copies the file at path to w
func appendFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}

func closeInto(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
