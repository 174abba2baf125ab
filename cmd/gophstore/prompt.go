package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// readPassword reads without echo from a terminal, or one line from any other reader.
func readPassword(in io.Reader, out io.Writer, prompt string) ([]byte, error) {
	fmt.Fprint(out, prompt)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		return pw, nil
	}
	line, err := readLine(in)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	if len(line) == 0 {
		return nil, errors.New("empty password")
	}
	return line, nil
}

// readLine reads up to a newline byte by byte so later prompts can share in.
func readLine(in io.Reader) ([]byte, error) {
	if br, ok := in.(*bufio.Reader); ok {
		line, err := br.ReadBytes('\n')
		if err != nil && (err != io.EOF || len(line) == 0) {
			return nil, err
		}
		return bytes.TrimRight(line, "\r\n"), nil
	}
	var buf []byte
	b := make([]byte, 1)
	for {
		n, err := in.Read(b)
		if n == 1 {
			if b[0] == '\n' {
				break
			}
			buf = append(buf, b[0])
		}
		if err == io.EOF {
			if len(buf) == 0 {
				return nil, io.EOF
			}
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return bytes.TrimRight(buf, "\r"), nil
}

// newPassword asks twice and requires both entries to match.
func newPassword(in io.Reader, out io.Writer, prompt string) ([]byte, error) {
	pw, err := readPassword(in, out, prompt)
	if err != nil {
		return nil, err
	}
	again, err := readPassword(in, out, "Repeat: ")
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(pw, again) {
		return nil, errors.New("passwords do not match")
	}
	return pw, nil
}
