// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package httperrors turns failures of the model API into user-friendly messages.
package httperrors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/pterm/pterm"
)

// Problem is a categorised description of a model API failure.
type Problem struct {
	Title   string
	Reasons []string
	Action  string
}

// Describe categorises err. It never returns nil for a non-nil error.
func Describe(err error, context string) *Problem {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return describeStatus(apiErr.StatusCode, context)
	}

	switch {
	case isCanceled(err):
		return &Problem{Title: "Cancelled while " + context}
	case isTimeoutError(err):
		return &Problem{
			Title: "Timeout while " + context,
			Reasons: []string{
				"Slow internet connection",
				"The model API is under heavy load",
			},
			Action: "Please try again in a few moments.",
		}
	case isDNSError(err):
		return &Problem{
			Title: "Cannot resolve the API address while " + context,
			Reasons: []string{
				"Your internet connection is down",
				"DNS-level blocking (corporate firewall)",
			},
		}
	case isConnectionRefusedError(err):
		return &Problem{
			Title: "Connection refused while " + context,
			Reasons: []string{
				"A proxy or firewall is blocking the connection",
				"ANTHROPIC_BASE_URL points to the wrong address",
			},
		}
	case isSSLError(err):
		return &Problem{
			Title: "Secure connection failed while " + context,
			Reasons: []string{
				"Network proxy interfering with HTTPS",
				"System clock is incorrect",
			},
		}
	}
	return &Problem{Title: "Model request failed while " + context}
}

func describeStatus(status int, context string) *Problem {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Problem{
			Title:   "The API key was rejected while " + context,
			Reasons: []string{"The key is invalid, revoked or lacks access to the model"},
			Action:  "Run 'psqlm login' to store a new key or set ANTHROPIC_API_KEY.",
		}
	case status == http.StatusTooManyRequests:
		return &Problem{
			Title:  "Rate limited while " + context,
			Action: "Wait a moment and ask again.",
		}
	case status == 529:
		return &Problem{
			Title:  "The model API is overloaded",
			Action: "Please try again in a few moments.",
		}
	case status >= 500:
		return &Problem{
			Title:  "The model API returned a server error while " + context,
			Action: "This is not a problem with your setup. Please try again later.",
		}
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		return &Problem{
			Title:   "The model API rejected the request while " + context,
			Reasons: []string{"The configured model name may be wrong", "The schema may be too large for the prompt"},
			Action:  "Check the model setting in config.json.",
		}
	}
	return &Problem{Title: "Model request failed while " + context}
}

// Present prints a Problem to standard output.
func Present(p *Problem) { Fprint(os.Stdout, p) }

// Fprint writes a Problem to w.
func Fprint(w io.Writer, p *Problem) {
	if p == nil {
		return
	}
	fmt.Fprintln(w, pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint(p.Title))
	if len(p.Reasons) > 0 {
		fmt.Fprintln(w, "This could mean:")
		for _, r := range p.Reasons {
			fmt.Fprintln(w, "  • "+r)
		}
	}
	if p.Action != "" {
		fmt.Fprintln(w, pterm.NewStyle(pterm.FgYellow).Sprint("→ "+p.Action))
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// isTimeoutError checks if the error is a timeout error.
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded")
}

// isDNSError checks if the error is a DNS resolution error.
func isDNSError(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// isConnectionRefusedError checks if the error is a connection refused error.
func isConnectionRefusedError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}

// isSSLError checks if the error is an SSL/TLS error.
func isSSLError(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "tls") ||
		strings.Contains(errStr, "x509") ||
		strings.Contains(errStr, "certificate")
}
