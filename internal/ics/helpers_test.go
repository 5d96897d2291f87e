package ics

import (
	"fmt"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"
)

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

// calendar wraps VEVENT blocks in a minimal VCALENDAR with CRLF endings.
func calendar(blocks ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//famcal//test//EN\r\n")
	for _, blk := range blocks {
		b.WriteString(blk)
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

// vevent builds a VEVENT block; props are raw "NAME:VALUE" lines.
func vevent(uid string, props ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VEVENT\r\n")
	fmt.Fprintf(&b, "UID:%s\r\n", uid)
	for _, p := range props {
		b.WriteString(p)
		b.WriteString("\r\n")
	}
	b.WriteString("END:VEVENT\r\n")
	return b.String()
}
