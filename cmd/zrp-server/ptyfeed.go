package main

import (
	"io"
	"log"
	"os"
	"os/exec"

	"github.com/creack/pty"

	"github.com/framegrace/zrp/internal/frame"
	"github.com/framegrace/zrp/internal/session"
)

// ptyFeed spawns shellPath under a pseudo-terminal and commits its output
// into sess's Frame Store. This is the demo Session/PTY host collaborator
// spec.md §1 places out of scope ("session/PTY host ... as concrete
// subsystems" get a home here rather than being left unimplemented, per
// SPEC_FULL.md §11). It is deliberately not a VT100 emulator — a full
// terminal renderer is out of scope by spec.md §1's own Non-goals — so
// escape sequences are not interpreted; printable runes are written
// left-to-right with basic newline/carriage-return handling, enough to
// drive the synchronization core end to end against a real process.
type ptyFeed struct {
	pty        *os.File
	cmd        *exec.Cmd
	cols, rows int
	row, col   int
}

func startPTYFeed(shellPath string, cols, rows int) (*ptyFeed, error) {
	cmd := exec.Command(shellPath)
	cmd.Env = append(os.Environ(), "TERM=dumb")
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, err
	}
	return &ptyFeed{pty: f, cmd: cmd, cols: cols, rows: rows}, nil
}

// Run reads pty output until EOF and, for each chunk, commits a
// CommitFrameUpdate mutating the session's frame. It returns when the
// shell exits or the pty is closed (by Close, from shutdown).
func (p *ptyFeed) Run(sess *session.Session) {
	buf := make([]byte, 4096)
	for {
		n, err := p.pty.Read(buf)
		if n > 0 {
			p.feed(sess, buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("ptyfeed: read: %v", err)
			}
			return
		}
	}
}

func (p *ptyFeed) feed(sess *session.Session, chunk []byte) {
	sess.CommitFrameUpdate(func(st *frame.Store) {
		for _, b := range chunk {
			switch b {
			case '\n':
				p.row++
				p.col = 0
			case '\r':
				p.col = 0
			case '\t':
				p.col += 8 - (p.col % 8)
			default:
				if b < 0x20 {
					continue
				}
				if p.row >= p.rows {
					p.row = p.rows - 1 // no scrollback in this demo feeder
				}
				if p.col >= p.cols {
					p.row++
					p.col = 0
					if p.row >= p.rows {
						p.row = p.rows - 1
					}
				}
				row := p.row
				col := p.col
				st.UpdateRow(row, func(cells []frame.Cell) {
					if col < len(cells) {
						cells[col] = frame.NewCell(rune(b), 0)
					}
				})
				p.col++
			}
		}
	})
}

func (p *ptyFeed) Resize(cols, rows int) error {
	return pty.Setsize(p.pty, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (p *ptyFeed) WriteInput(b []byte) (int, error) {
	return p.pty.Write(b)
}

func (p *ptyFeed) Close() error {
	p.pty.Close()
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return p.cmd.Wait()
}
