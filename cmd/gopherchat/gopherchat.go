// Program gopherchat runs the chat service and its scripted client.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"

	"github.com/gopherchat/gopherchat/client"
	"github.com/gopherchat/gopherchat/server"
	"github.com/gopherchat/gopherchat/store"
)

var serveFlags = struct {
	Addr  string `flag:"addr,Listen address"`
	Store string `flag:"store,Path of the server state file"`
}{
	Addr:  ":9999",
	Store: "serverdata.bin",
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "A chat server and scripted client.",
		Commands: []*command.C{
			{
				Name:     "serve",
				Help:     "Run the chat server until interrupted.",
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      runServe,
			},
			{
				Name:     "reset",
				Help:     "Discard the saved server state.",
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      runReset,
			},
			{
				Name:  "run",
				Usage: "<address> <script-file>",
				Help: `Run a client script against the server at address.

The script holds one command per line. Supported commands:

  DELAY <seconds>            pause the script
  REGISTER <user> <pass>     create an account (4-8 letters or digits each)
  LOGIN <user> <pass>        log this client in
  LOGOUT                     log out
  SEND <message>             send a message to all logged-in users
  SEND2 <user> <message>     send a message to one user, queued if offline
  SENDA <message>            send an anonymous message to all
  SENDA2 <user> <message>    send an anonymous message to one user
  SENDF <file>               send a file to all logged-in users
  SENDF2 <user> <file>       send a file to one user
  LIST                       list the registered users

The client keeps running after the script completes, so it can continue to
receive messages and files. Interrupt it to exit.`,
				Run: runClient,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}).With().Timestamp().Logger()
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(env *command.Env) error {
	log := newLogger()
	st := store.Open(serveFlags.Store)
	if err := st.Load(); err != nil {
		return err
	}
	srv, err := server.New(serveFlags.Addr, st, log)
	if err != nil {
		return err
	}

	ctx, cancel := interruptContext()
	defer cancel()

	var failure error
	g := taskgroup.New(func(err error) { failure = err })
	g.Go(func() error { return srv.Run(ctx) })
	g.Wait()
	return failure
}

func runReset(env *command.Env) error {
	if err := store.Open(serveFlags.Store).Reset(); err != nil {
		return err
	}
	log := newLogger()
	log.Info().Str("store", serveFlags.Store).Msg("server state reset")
	return nil
}

func runClient(env *command.Env) error {
	if len(env.Args) != 2 {
		return env.Usagef("required arguments: <address> <script-file>")
	}
	addr, script := env.Args[0], env.Args[1]

	c, err := client.New(addr, script, newLogger())
	if err != nil {
		return err
	}

	ctx, cancel := interruptContext()
	defer cancel()

	return taskgroup.Go(func() error { return c.Run(ctx) }).Wait()
}
