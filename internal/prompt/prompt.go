// Copyright (c) 2015-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prompt

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// promptList prompts the user with the given prefix, list of valid responses,
// and default list entry to use.  The function will repeat the prompt to the
// user until they enter a valid response.
func promptList(reader *bufio.Reader, out io.Writer, prefix string,
	validResponses []string, defaultEntry string) (string, error) {

	// Setup the prompt according to the parameters.
	validStrings := strings.Join(validResponses, "/")
	var prompt string
	if defaultEntry != "" {
		prompt = fmt.Sprintf("%s (%s) [%s]: ", prefix, validStrings,
			defaultEntry)
	} else {
		prompt = fmt.Sprintf("%s (%s): ", prefix, validStrings)
	}

	// Prompt the user until one of the valid responses is given.
	for {
		fmt.Fprint(out, prompt)
		reply, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		reply = strings.TrimSpace(strings.ToLower(reply))
		if reply == "" {
			reply = defaultEntry
		}

		for _, validResponse := range validResponses {
			if reply == validResponse {
				return reply, nil
			}
		}
	}
}

// promptListBool prompts the user for a boolean (yes/no) with the given prefix.
// The function will repeat the prompt to the user until they enter a valid
// reponse.
func promptListBool(reader *bufio.Reader, out io.Writer, prefix string,
	defaultEntry string) (bool, error) {

	// Setup the valid responses.
	valid := []string{"n", "no", "y", "yes"}
	response, err := promptList(reader, out, prefix, valid, defaultEntry)
	if err != nil {
		return false, err
	}
	return response == "yes" || response == "y", nil
}

// Confirm asks a yes/no question on stdout and returns the answer. An empty
// reply is a no.
func Confirm(reader *bufio.Reader, prefix string) (bool, error) {
	return promptListBool(reader, os.Stdout, prefix, "no")
}

// readSecret reads a line without echoing it when stdin is a terminal, and
// from the reader otherwise.
func readSecret(reader *bufio.Reader) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Print("\n")
		return secret, err
	}

	line, err := reader.ReadBytes('\n')
	if err != nil && (err != io.EOF || len(line) == 0) {
		return nil, err
	}
	return line, nil
}

// Descriptor prompts for an output descriptor with the given prefix. Private
// descriptors are not echoed. Unless optional is set, the prompt repeats until
// a non-empty line is entered.
func Descriptor(reader *bufio.Reader, prefix string,
	optional bool) (string, error) {

	for {
		fmt.Printf("%s: ", prefix)
		secret, err := readSecret(reader)
		if err != nil {
			return "", err
		}

		desc := string(bytes.TrimSpace(secret))
		clear(secret)
		if desc == "" && !optional {
			continue
		}

		return desc, nil
	}
}
