package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests provide a stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	AddEntry(ctx context.Context) error
	List(ctx context.Context) error
	Share(ctx context.Context) error
	Sign(ctx context.Context) error
	Voucher(ctx context.Context) error
}

// runREPL reads a line, parses the first token as the command, and
// dispatches to methods on 'a'. The loop exits on scanner EOF or when the
// user types "exit" or "quit". Command errors are reported by the handlers
// themselves; the loop keeps going.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("diary> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "exit", "quit":
			return
		case "help":
			printHelp(a.isLoggedIn())
		case "register":
			_ = a.Register(ctx)
		case "login":
			_ = a.Login(ctx)
		case "add":
			if requireLogin(a) {
				_ = a.AddEntry(ctx)
			}
		case "list":
			if requireLogin(a) {
				_ = a.List(ctx)
			}
		case "share":
			if requireLogin(a) {
				_ = a.Share(ctx)
			}
		case "sign":
			if requireLogin(a) {
				_ = a.Sign(ctx)
			}
		case "voucher":
			if requireLogin(a) {
				_ = a.Voucher(ctx)
			}
		default:
			printlnFn("Unknown command:", parts[0])
		}
	}
}

func requireLogin(a execIface) bool {
	if !a.isLoggedIn() {
		printlnFn("Log in first.")
		return false
	}
	return true
}

func printHelp(loggedIn bool) {
	if !loggedIn {
		printlnFn("Commands: register, login, help, exit")
		return
	}
	printlnFn("Commands: add, list, share, sign, voucher, help, exit")
}
