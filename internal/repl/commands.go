// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package repl

import (
	"context"
	"strings"

	"psqlm/cli/internal/config"
)

const helpText = `Type a question in natural language, or SQL ending with ';' to run it as is.

Commands:
  \q                          quit
  \schema                     refresh and show the schema the model sees
  \mode [auto|confirm|show]   show or set the execution mode
  \format [table|plain|json]  show or set the output format
  \help                       show this help

Statements that may change data are always previewed inside a transaction
and only committed when you choose Commit.`

var modeDescriptions = map[config.ExecutionMode]string{
	config.ModeAuto:    "auto (run immediately; changes are still previewed)",
	config.ModeConfirm: "confirm (ask before running)",
	config.ModeShow:    "show (display SQL only)",
}

// Help prints the command overview.
func (c *Controller) Help() {
	c.r.Info(helpText)
	c.r.Info("")
}

func (c *Controller) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case `\q`, `\quit`:
		return true

	case `\schema`:
		stop := c.opts.Spinner("Reading schema")
		snap, err := c.sess.RefreshSchema(ctx)
		stop()
		if err != nil {
			return c.recover(ctx, nil, err) == actQuit
		}
		c.r.Schema(snap)

	case `\mode`:
		if arg == "" {
			c.r.Info("Current mode: %s", modeDescriptions[c.mode])
			return false
		}
		mode, err := config.ParseExecutionMode(arg)
		if err != nil {
			c.r.Info("Unknown mode. Use: auto, confirm, or show")
			return false
		}
		c.mode = mode
		c.r.Info("Execution mode: %s", modeDescriptions[mode])

	case `\format`:
		if arg == "" {
			c.r.Info("Current format: %s", c.r.Format())
			return false
		}
		format, err := config.ParseOutputFormat(arg)
		if err != nil {
			c.r.Info("Unknown format. Use: table, plain, or json")
			return false
		}
		c.r.SetFormat(format)
		c.r.Info("Output format: %s", format)

	case `\help`, `\?`, `\h`:
		c.Help()

	default:
		c.r.Info(`Unknown command: %s (\help lists the commands)`, fields[0])
	}
	return false
}
