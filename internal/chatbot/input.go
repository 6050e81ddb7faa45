package chatbot

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
)

// Input reads lines typed by the user. ReadLine returns io.EOF when input
// ends or the user aborts the prompt.
type Input interface {
	ReadLine(prompt string) (string, error)
	ReadPassword(prompt string) (string, error)
	Close() error
}

// readerInput reads lines from any reader; used for pipes and tests
type readerInput struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewReaderInput reads lines from in and echoes prompts to out
func NewReaderInput(in io.Reader, out io.Writer) Input {
	return &readerInput{scanner: bufio.NewScanner(in), out: out}
}

func (r *readerInput) ReadLine(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *readerInput) ReadPassword(prompt string) (string, error) {
	return r.ReadLine(prompt)
}

func (r *readerInput) Close() error {
	return nil
}

// terminalInput gives the prompt line editing and persistent history
type terminalInput struct {
	line        *liner.State
	historyFile string
}

// NewTerminalInput opens a line editor on the terminal. History is loaded
// from historyFile and written back on Close.
func NewTerminalInput(historyFile string) Input {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	t := &terminalInput{line: line, historyFile: historyFile}
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return t
}

func (t *terminalInput) ReadLine(prompt string) (string, error) {
	input, err := t.line.Prompt(prompt)
	if err != nil {
		return "", t.mapErr(err)
	}
	// passwords go through ReadPassword and never reach history
	if strings.TrimSpace(input) != "" {
		t.line.AppendHistory(input)
	}
	return input, nil
}

func (t *terminalInput) ReadPassword(prompt string) (string, error) {
	input, err := t.line.PasswordPrompt(prompt)
	if errors.Is(err, liner.ErrNotTerminalOutput) {
		// piped output, nothing to hide the echo from
		input, err = t.line.Prompt(prompt)
	}
	if err != nil {
		return "", t.mapErr(err)
	}
	return input, nil
}

func (t *terminalInput) mapErr(err error) error {
	if errors.Is(err, liner.ErrPromptAborted) {
		return io.EOF
	}
	return err
}

func (t *terminalInput) Close() error {
	if f, err := os.OpenFile(t.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
		t.line.WriteHistory(f)
		f.Close()
	}
	return t.line.Close()
}
