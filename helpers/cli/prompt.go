// Package cli runs line oriented tools interactively (go-prompt) or from stdin script.
package cli

import (
	"bytes"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

// MainLoop calls exec for every input line. onSignal runs before exit on
// SIGHUP/SIGINT/SIGTERM/SIGQUIT, may be nil.
func MainLoop(tag string, exec func(line string), complete func(d prompt.Document) []prompt.Suggest, onSignal func()) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		for range signalCh {
			if onSignal != nil {
				onSignal()
			}
			os.Exit(1)
		}
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(exec, complete,
			prompt.OptionTitle(tag),
			prompt.OptionPrefix(tag+"> "),
		).Run()
	} else {
		stdinAll, err := ioutil.ReadAll(os.Stdin)
		if err != nil {
			log.Fatal(err)
		}
		ExecScript(stdinAll, exec)
	}
}

// ExecScript feeds non-empty, non-comment lines to exec.
func ExecScript(script []byte, exec func(line string)) {
	linesb := bytes.Split(script, []byte{'\n'})
	for _, lineb := range linesb {
		line := string(bytes.TrimSpace(lineb))
		if line == "" || line[0] == '#' {
			continue
		}
		exec(line)
	}
}
