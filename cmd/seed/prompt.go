package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword and isTerminal are replaced in tests.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

type credentials struct {
	Email    string
	Password string
	Name     string
}

// adminCredentials prefers ADMIN_EMAIL, ADMIN_PASSWORD and ADMIN_NAME and
// prompts for whatever is missing when stdin is a terminal.
func adminCredentials(getenv func(string) string, in *os.File, out io.Writer) (credentials, error) {
	creds := credentials{
		Email:    strings.TrimSpace(getenv("ADMIN_EMAIL")),
		Password: getenv("ADMIN_PASSWORD"),
		Name:     strings.TrimSpace(getenv("ADMIN_NAME")),
	}
	if creds.Email != "" && creds.Password != "" {
		return creds, nil
	}

	fd := int(in.Fd())
	if !isTerminal(fd) {
		return credentials{}, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required when stdin is not a terminal")
	}

	reader := bufio.NewReader(in)
	if creds.Email == "" {
		email, err := promptLine(reader, out, "Admin email: ")
		if err != nil {
			return credentials{}, err
		}
		creds.Email = email
	}
	if creds.Name == "" {
		name, err := promptLine(reader, out, "Admin name (optional): ")
		if err != nil {
			return credentials{}, err
		}
		creds.Name = name
	}
	if creds.Password == "" {
		fmt.Fprint(out, "Admin password: ")
		pw, err := readPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return credentials{}, fmt.Errorf("read password: %w", err)
		}
		creds.Password = string(pw)
	}

	return creds, nil
}

func promptLine(reader *bufio.Reader, out io.Writer, prompt string) (string, error) {
	if _, err := fmt.Fprint(out, prompt); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
