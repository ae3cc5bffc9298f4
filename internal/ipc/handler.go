package ipc

import (
	"time"

	"github.com/charmbracelet/log"
)

// polling commands are logged at debug level only
var quietCommands = map[CommandType]bool{
	CmdStatus: true,
	CmdLevels: true,
}

func logRequest(logger *log.Logger, req *Request, resp *Response, duration time.Duration) {
	level := log.InfoLevel
	if quietCommands[req.Cmd] {
		level = log.DebugLevel
	}
	if !resp.Success {
		logger.Log(max(level, log.WarnLevel), "request failed", "cmd", req.Cmd, "err", resp.Error, "duration", duration)
		return
	}
	logger.Log(level, "request", "cmd", req.Cmd, "duration", duration)
}
