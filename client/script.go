package client

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	chat "github.com/gopherchat/gopherchat"
	"github.com/gopherchat/gopherchat/poller"
)

// readScript loads the command script at path, one command per line. Blank
// lines and lines starting with # are skipped.
func readScript(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return lines, nil
}

// timerReady runs script commands. Commands execute back to back until a
// DELAY re-arms the timer or the script runs out; the client stays live after
// the script ends to keep receiving traffic.
func (c *Client) timerReady(poller.Ready) {
	c.timer.Clear()
	for c.pc < len(c.script) {
		line := c.script[c.pc]
		c.pc++
		d, err := c.step(line)
		if err != nil {
			c.log.Warn().Err(err).Str("line", line).Msg("skipping script command")
			continue
		}
		if d > 0 {
			if err := c.timer.Set(d); err != nil {
				c.fail(err)
			}
			return
		}
	}
	c.timer.Disarm()
	c.log.Info().Msg("script complete")
}

// step executes one script command, returning a nonzero duration when the
// command pauses the script.
func (c *Client) step(line string) (time.Duration, error) {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "DELAY":
		sec, err := strconv.Atoi(rest)
		if err != nil || sec < 0 {
			return 0, fmt.Errorf("invalid delay %q", rest)
		}
		return time.Duration(sec) * time.Second, nil

	case "REGISTER", "LOGIN":
		user, pass, ok := strings.Cut(rest, " ")
		pass = strings.TrimSpace(pass)
		if !ok || !chat.ValidCredential(user) || !chat.ValidCredential(pass) {
			return 0, fmt.Errorf("credentials must be 4-8 letters or digits")
		}
		kind := chat.MsgRegister
		if cmd == "LOGIN" {
			kind = chat.MsgLogin
		}
		c.request(kind, &chat.LoginPacket{Username: user, Password: pass})

	case "LOGOUT":
		c.request(chat.MsgLogout, nil)

	case "SEND", "SENDA":
		if rest == "" {
			return 0, fmt.Errorf("missing message text")
		}
		m := &chat.MessagePacket{Message: rest}
		if cmd == "SEND" {
			m.Username = c.username
		}
		c.request(chat.MsgSend, m)

	case "SEND2", "SENDA2":
		dest, msg, ok := strings.Cut(rest, " ")
		msg = strings.TrimSpace(msg)
		if !ok || dest == "" || msg == "" {
			return 0, fmt.Errorf("usage: %s <user> <message>", cmd)
		}
		m := &chat.MessagePacket{Destination: dest, Message: msg}
		if cmd == "SEND2" {
			m.Username = c.username
		}
		c.request(chat.MsgSend, m)

	case "SENDF":
		if rest == "" {
			return 0, fmt.Errorf("missing filename")
		}
		c.addJob(rest, "")

	case "SENDF2":
		dest, path, ok := strings.Cut(rest, " ")
		path = strings.TrimSpace(path)
		if !ok || dest == "" || path == "" {
			return 0, fmt.Errorf("usage: SENDF2 <user> <file>")
		}
		c.addJob(path, dest)

	case "LIST":
		c.request(chat.MsgGetList, nil)

	default:
		return 0, fmt.Errorf("unknown command %q", cmd)
	}
	return 0, nil
}
