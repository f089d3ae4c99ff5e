package terminal

import (
	"golang.org/x/sys/windows"
)

func (w *pagingWriter) getWindowSize() {
	hout, err := windows.GetStdHandle(windows.STD_OUTPUT_HANDLE)
	if err != nil {
		w.mode = pagingWriterNormal
		return
	}
	var sbi windows.ConsoleScreenBufferInfo
	if err := windows.GetConsoleScreenBufferInfo(hout, &sbi); err != nil {
		w.mode = pagingWriterNormal
		return
	}
	win := sbi.Window
	w.columns = int(win.Right - win.Left + 1)
	w.lines = int(win.Bottom - win.Top + 1)
}
