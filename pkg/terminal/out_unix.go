//go:build unix

package terminal

import (
	"os"

	"golang.org/x/sys/unix"
)

// getWindowSize sizes the pager threshold from the controlling terminal.
// Paging is turned off when stdout has no window size.
func (w *pagingWriter) getWindowSize() {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws.Row == 0 {
		w.mode = pagingWriterNormal
		return
	}
	w.lines = int(ws.Row)
	w.columns = int(ws.Col)
}
