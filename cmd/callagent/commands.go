package main

import (
	"errors"
	"strings"

	"ringline/internal/domain/call"
	"ringline/internal/session"
)

var errUnknownCommand = errors.New("unknown command")

type command struct {
	name    string
	ids     []string
	kind    call.Kind
	surface session.Surface
	audio   bool
	video   bool
}

// parseCommand reads one stdin line, e.g. "call u1 u2 --video".
func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errUnknownCommand
	}
	cmd := command{name: strings.ToLower(fields[0])}
	args := fields[1:]

	switch cmd.name {
	case "call":
		cmd.kind = call.KindVoice
		for _, a := range args {
			if a == "--video" {
				cmd.kind = call.KindVideo
				continue
			}
			cmd.ids = append(cmd.ids, a)
		}
		if len(cmd.ids) == 0 {
			return command{}, errors.New("call needs at least one user id")
		}
	case "minimize":
		cmd.surface = session.SurfaceMinimized
	case "float":
		cmd.surface = session.SurfaceFloating
	case "fullscreen":
		cmd.surface = session.SurfaceFullscreen
	case "media":
		if len(args) != 2 {
			return command{}, errors.New("usage: media on|off on|off")
		}
		cmd.audio = args[0] == "on"
		cmd.video = args[1] == "on"
	case "accept", "decline", "hangup", "status", "quit":
	default:
		return command{}, errUnknownCommand
	}
	return cmd, nil
}

func apply(s *session.Session, cmd command) {
	switch cmd.name {
	case "call":
		s.StartCall(cmd.ids, cmd.kind, "")
	case "accept":
		s.Accept()
	case "decline":
		s.Decline()
	case "hangup":
		s.Hangup()
	case "minimize", "float", "fullscreen":
		s.SetSurface(cmd.surface)
	case "media":
		s.SetMedia(cmd.audio, cmd.video)
	}
}
