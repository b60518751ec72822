package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"totari/audio"
	"totari/log"
	"totari/mcp"
	"totari/state"
)

func driveCmd() *cli.Command {
	return &cli.Command{
		Name:  "drive",
		Usage: "Headless recorder driven by stdin (START, STOP, CANCEL, WAIT, SLEEP ms, QUIT)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "thread", Aliases: []string{"t"}, Usage: "Thread id"},
			&cli.StringFlag{Name: "title", Usage: "Create a new thread with this title"},
		},
		Action: func(c *cli.Context) error {
			return withSession(c, false, func(sess *session) error {
				threadID, err := resolveThread(c, sess)
				if err != nil {
					return outputError(err)
				}
				rec, _, closeAudio := newRecorder(c, sess)
				defer closeAudio()

				d := &driver{
					ctx:      c.Context,
					coord:    sess.coord,
					sess:     sess,
					rec:      rec,
					threadID: threadID,
					out:      json.NewEncoder(c.App.Writer),
				}
				return d.run(c.App.Reader)
			})
		},
	}
}

// driveEvent is one line of drive output.
type driveEvent struct {
	Event      string           `json:"event"`
	ThreadID   string           `json:"thread_id,omitempty"`
	MessageID  string           `json:"message_id,omitempty"`
	DurationMs int64            `json:"duration_ms,omitempty"`
	Bytes      int              `json:"bytes,omitempty"`
	Message    *mcp.MessageView `json:"message,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// driver replays the UI's record and stop sequence from text commands.
type driver struct {
	ctx      context.Context
	coord    *state.Coordinator
	sess     *session
	rec      *audio.Recorder
	threadID string
	out      *json.Encoder

	recordingID string
	pending     []*state.Task
}

func (d *driver) run(in io.Reader) error {
	d.emit(driveEvent{Event: "ready", ThreadID: d.threadID})
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "":
		case cmd == "START":
			d.start()
		case cmd == "STOP":
			d.stop()
		case cmd == "CANCEL":
			d.cancel()
		case cmd == "WAIT":
			d.wait()
		case cmd == "QUIT":
			d.cancel()
			d.wait()
			return nil
		case strings.HasPrefix(cmd, "SLEEP "):
			ms, err := strconv.Atoi(strings.TrimSpace(cmd[6:]))
			if err != nil {
				d.fail("", fmt.Errorf("bad sleep %q", cmd))
				continue
			}
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-d.ctx.Done():
			}
		default:
			d.fail("", fmt.Errorf("unknown command %q", cmd))
		}
		if d.ctx.Err() != nil {
			break
		}
	}
	d.cancel()
	d.wait()
	return scanner.Err()
}

func (d *driver) emit(ev driveEvent) {
	if err := d.out.Encode(ev); err != nil {
		log.Errorf("drive: write: %v", err)
	}
}

func (d *driver) fail(messageID string, err error) {
	d.emit(driveEvent{Event: "error", MessageID: messageID, Error: err.Error()})
}

func (d *driver) start() {
	if d.recordingID != "" {
		d.fail(d.recordingID, fmt.Errorf("already recording"))
		return
	}
	msg, err := d.coord.StartAudioRecording(d.ctx, d.threadID)
	if err != nil {
		d.fail("", err)
		return
	}
	if !d.rec.Start() {
		d.coord.FailRecording(d.ctx, msg.ID, "audio capture failed to start")
		d.fail(msg.ID, fmt.Errorf("audio capture failed to start"))
		return
	}
	d.recordingID = msg.ID
	d.emit(driveEvent{Event: "started", MessageID: msg.ID})
}

func (d *driver) stop() {
	id := d.recordingID
	if id == "" {
		d.fail("", fmt.Errorf("not recording"))
		return
	}
	d.recordingID = ""
	r, err := d.rec.Stop()
	if err != nil {
		d.coord.FailRecording(d.ctx, id, err.Error())
		d.fail(id, err)
		return
	}
	task, err := d.coord.ProcessCapture(d.ctx, id, r.Data, r.Duration)
	if err != nil {
		d.fail(id, err)
		return
	}
	d.pending = append(d.pending, task)
	d.emit(driveEvent{Event: "stopped", MessageID: id, DurationMs: r.Duration.Milliseconds(), Bytes: r.SizeBytes})
}

func (d *driver) cancel() {
	id := d.recordingID
	if id == "" {
		return
	}
	d.recordingID = ""
	d.rec.Cancel()
	d.coord.FailRecording(d.ctx, id, "recording cancelled")
	d.emit(driveEvent{Event: "cancelled", MessageID: id})
}

// wait blocks until every stopped recording has been transcribed.
func (d *driver) wait() {
	for _, task := range d.pending {
		if err := task.Wait(); err != nil {
			d.fail(task.MessageID, err)
			continue
		}
		m, err := d.sess.store.GetMessage(d.ctx, task.MessageID)
		if err != nil {
			d.fail(task.MessageID, err)
			continue
		}
		view := mcp.NewMessageView(*m)
		d.emit(driveEvent{Event: "transcribed", MessageID: task.MessageID, Message: &view})
	}
	d.pending = nil
}
