package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"totari/audio"
	"totari/clipboard"
	"totari/config"
	"totari/device"
	"totari/doctor"
	terrors "totari/internal/errors"
	"totari/log"
	"totari/mcp"
	"totari/model"
	"totari/tui"
)

// newCLIApp creates the application with all commands. Running it with no
// command opens the terminal UI.
func newCLIApp(crashLog bool) *cli.App {
	app := &cli.App{
		Name:    "totari",
		Usage:   "Voice notes and transcripts, organized in threads",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "logpath", Usage: "Log directory (default: OS-specific location, use ./ for current dir)"},
			&cli.StringFlag{Name: "device", Usage: "Use named microphone device"},
			&cli.BoolFlag{Name: "setup", Usage: "Select microphone device interactively"},
			&cli.StringFlag{Name: "fake-audio", Usage: "Replay a WAV file instead of the microphone"},
			&cli.StringFlag{Name: "email", Usage: "Sign in with this email (password from TOTARI_PASSWORD)"},
			&cli.BoolFlag{Name: "no-cues", Usage: "Do not play start and stop tones"},
			&cli.DurationFlag{Name: "silence-stop", Usage: "Stop recording after this long without voice (0 disables)"},
		},
		Before: func(c *cli.Context) error {
			dir, err := log.ResolveDir(c.String("logpath"))
			if err != nil {
				return fmt.Errorf("failed to resolve log directory: %w", err)
			}
			log.SetDir(dir)
			if err := log.Init(); err != nil {
				fmt.Fprintf(c.App.ErrWriter, "Warning: could not init logging: %v\n", err)
			}
			if crashLog {
				setupCrashLog()
			}
			return nil
		},
		After: func(*cli.Context) error {
			log.Close()
			return nil
		},
		Action: runUI,
		Commands: []*cli.Command{
			uiCmd(),
			threadsCmd(),
			messagesCmd(),
			noteCmd(),
			transcribeCmd(),
			speakCmd(),
			voicesCmd(),
			devicesCmd(),
			doctorCmd(),
			mcpCmd(),
			deviceIDCmd(),
			driveCmd(),
		},
	}
	// Errors are returned to the caller instead of exiting, so tests can inspect them.
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func setupCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

// withSession opens the store and coordinator for one command and closes
// them when it returns.
func withSession(c *cli.Context, degraded bool, fn func(sess *session) error) error {
	sess, err := openSession(c.Context, sessionOptions{
		email:    c.String("email"),
		password: os.Getenv("TOTARI_PASSWORD"),
		degraded: degraded,
	})
	if err != nil {
		return outputError(err)
	}
	defer sess.Close()
	return fn(sess)
}

func audioOptionsFrom(c *cli.Context) audioOptions {
	return audioOptions{
		fakeWAV: c.String("fake-audio"),
		device:  c.String("device"),
		setup:   c.Bool("setup"),
	}
}

// newRecorder opens the capture backend. Without one the recorder is
// returned unavailable and the returned close func is a no-op.
func newRecorder(c *cli.Context, sess *session) (*audio.Recorder, *audio.DeviceInfo, func()) {
	opts := audioOptionsFrom(c)
	actx, dev, err := openAudio(opts)
	if err != nil {
		log.Errorf("audio: %v", err)
		fmt.Fprintf(c.App.ErrWriter, "Warning: %v; recording is disabled\n", err)
		return audio.NewRecorder(nil, nil, sess.recorderConfig(false)), nil, func() {}
	}
	return audio.NewRecorder(actx, dev, sess.recorderConfig(opts.fakeWAV != "")), dev, actx.Close
}

func runUI(c *cli.Context) error {
	return withSession(c, true, func(sess *session) error {
		rec, dev, closeAudio := newRecorder(c, sess)
		defer closeAudio()

		if sess.storeErr != nil {
			fmt.Fprintf(c.App.ErrWriter, "Warning: %v; nothing will be saved\n", sess.storeErr)
		}
		return tui.Run(c.Context, sess.coord, rec, tui.Options{
			Version:     version,
			DeviceLine:  deviceLine(dev),
			ModeLine:    sess.modeLine(),
			MaxDuration: sess.cfg.Audio.MaxDuration,
			SilenceStop: c.Duration("silence-stop"),
			Cues:        !c.Bool("no-cues"),
			Copy:        clipboard.Copy,
		})
	})
}

func uiCmd() *cli.Command {
	return &cli.Command{
		Name:   "ui",
		Usage:  "Open the terminal UI (default)",
		Action: runUI,
	}
}

func threadsCmd() *cli.Command {
	list := func(c *cli.Context) error {
		return withSession(c, false, func(sess *session) error {
			sess.coord.FetchThreads(c.Context)
			if msg := sess.coord.ThreadsError(); msg != "" {
				return outputError(terrors.NewBackendUnavailable("store"))
			}
			return outputJSON(c.App.Writer, map[string]any{"threads": sess.coord.Threads()})
		})
	}
	return &cli.Command{
		Name:   "threads",
		Usage:  "List, create, rename or delete threads",
		Action: list,
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List threads, most recently updated first",
				Action: list,
			},
			{
				Name:      "create",
				Usage:     "Create a thread",
				ArgsUsage: "TITLE",
				Action: func(c *cli.Context) error {
					title := strings.Join(c.Args().Slice(), " ")
					return withSession(c, false, func(sess *session) error {
						t, err := sess.coord.CreateThread(c.Context, title)
						if err != nil {
							return outputError(err)
						}
						return outputJSON(c.App.Writer, t)
					})
				},
			},
			{
				Name:      "rename",
				Usage:     "Rename a thread",
				ArgsUsage: "THREAD_ID TITLE",
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return outputError(terrors.NewInvalidRequest("usage: threads rename THREAD_ID TITLE"))
					}
					id := c.Args().First()
					title := strings.Join(c.Args().Tail(), " ")
					return withSession(c, false, func(sess *session) error {
						if err := sess.coord.RenameThread(c.Context, id, title); err != nil {
							return outputError(err)
						}
						return outputJSON(c.App.Writer, map[string]any{"id": id, "title": strings.TrimSpace(title)})
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a thread (its messages are kept)",
				ArgsUsage: "THREAD_ID",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return outputError(terrors.NewInvalidRequest("usage: threads delete THREAD_ID"))
					}
					id := c.Args().First()
					return withSession(c, false, func(sess *session) error {
						if err := sess.coord.DeleteThread(c.Context, id); err != nil {
							return outputError(err)
						}
						return outputJSON(c.App.Writer, map[string]any{"id": id, "deleted": true})
					})
				},
			},
		},
	}
}

func messagesCmd() *cli.Command {
	return &cli.Command{
		Name:      "messages",
		Usage:     "List the messages of a thread",
		ArgsUsage: "THREAD_ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "Keep printing changes as JSON lines"},
			&cli.BoolFlag{Name: "mine", Usage: "With --follow, only messages from this device"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(terrors.NewInvalidRequest("usage: messages THREAD_ID"))
			}
			threadID := c.Args().First()
			return withSession(c, false, func(sess *session) error {
				if c.Bool("follow") {
					return followMessages(c.Context, c.App.Writer, sess, threadID, c.Bool("mine"))
				}
				msgs := sess.store.GetMessages(c.Context, threadID)
				views := make([]mcp.MessageView, 0, len(msgs))
				for _, m := range msgs {
					views = append(views, mcp.NewMessageView(m))
				}
				return outputJSON(c.App.Writer, map[string]any{"messages": views})
			})
		},
	}
}

// followMessages prints a line whenever a message appears or changes
// status, until ctx is done.
func followMessages(ctx context.Context, w io.Writer, sess *session, threadID string, mine bool) error {
	updates := make(chan []model.Message)
	onUpdate := func(msgs []model.Message) {
		select {
		case updates <- msgs:
		case <-ctx.Done():
		}
	}
	var unsubscribe func()
	if mine {
		unsubscribe = sess.store.SubscribeToMessages(ctx, threadID, sess.deviceID, onUpdate)
	} else {
		unsubscribe = sess.store.SubscribeToThread(ctx, threadID, onUpdate)
	}
	defer unsubscribe()

	enc := json.NewEncoder(w)
	seen := make(map[string]model.Status)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msgs := <-updates:
			for _, m := range msgs {
				if st, ok := seen[m.ID]; ok && st == m.Status {
					continue
				}
				seen[m.ID] = m.Status
				if err := enc.Encode(mcp.NewMessageView(m)); err != nil {
					return err
				}
			}
		}
	}
}

func noteCmd() *cli.Command {
	return &cli.Command{
		Name:      "note",
		Usage:     "Add a text note to a thread",
		ArgsUsage: "THREAD_ID TEXT",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(terrors.NewInvalidRequest("usage: note THREAD_ID TEXT"))
			}
			threadID := c.Args().First()
			text := strings.Join(c.Args().Tail(), " ")
			return withSession(c, false, func(sess *session) error {
				m, err := sess.coord.AddNote(c.Context, threadID, text)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(c.App.Writer, mcp.NewMessageView(*m))
			})
		},
	}
}

func transcribeCmd() *cli.Command {
	return &cli.Command{
		Name:      "transcribe",
		Usage:     "Store an audio file as a message and transcribe it",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "thread", Aliases: []string{"t"}, Usage: "Thread id"},
			&cli.StringFlag{Name: "title", Usage: "Create a new thread with this title"},
			&cli.BoolFlag{Name: "copy", Usage: "Copy the transcript to the clipboard"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(terrors.NewInvalidRequest("usage: transcribe FILE --thread ID"))
			}
			data, err := os.ReadFile(c.Args().First())
			if err != nil {
				return outputError(terrors.NewInvalidRequest("read audio file: " + err.Error()))
			}
			return withSession(c, false, func(sess *session) error {
				threadID, err := resolveThread(c, sess)
				if err != nil {
					return outputError(err)
				}
				m, err := transcribeAudio(c.Context, sess, threadID, data)
				if err != nil {
					return outputError(err)
				}
				view := mcp.NewMessageView(*m)
				if c.Bool("copy") && view.Text != "" {
					if err := clipboard.Copy(view.Text); err != nil {
						fmt.Fprintf(c.App.ErrWriter, "Warning: copy failed: %v\n", err)
					}
				}
				return outputJSON(c.App.Writer, view)
			})
		},
	}
}

// resolveThread returns --thread, or creates a thread from --title.
func resolveThread(c *cli.Context, sess *session) (string, error) {
	if id := c.String("thread"); id != "" {
		return id, nil
	}
	if title := c.String("title"); title != "" {
		t, err := sess.coord.CreateThread(c.Context, title)
		if err != nil {
			return "", err
		}
		return t.ID, nil
	}
	return "", terrors.NewInvalidRequest("--thread or --title is required")
}

// transcribeAudio runs data through the capture lifecycle and returns the
// stored message once transcription settles.
func transcribeAudio(ctx context.Context, sess *session, threadID string, data []byte) (*model.Message, error) {
	m, err := sess.coord.StartAudioRecording(ctx, threadID)
	if err != nil {
		return nil, err
	}
	task, err := sess.coord.ProcessAudioRecording(ctx, m.ID, data)
	if err != nil {
		return nil, err
	}
	if err := task.Wait(); err != nil {
		return nil, err
	}
	return sess.store.GetMessage(ctx, m.ID)
}

func speakCmd() *cli.Command {
	return &cli.Command{
		Name:      "speak",
		Usage:     "Synthesize speech to an audio file",
		ArgsUsage: "TEXT",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true, Usage: "Output file"},
			&cli.StringFlag{Name: "voice", Usage: "Voice id (default from ELEVENLABS_VOICE_ID)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return outputError(err)
			}
			_, speaker := newSpeechClients(cfg)
			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			data, err := speaker.Generate(c.Context, text, c.String("voice"))
			if err != nil {
				return outputError(err)
			}
			out := c.String("out")
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{"path": out, "bytes": len(data)})
		},
	}
}

func voicesCmd() *cli.Command {
	return &cli.Command{
		Name:  "voices",
		Usage: "List the voices available for speak",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return outputError(err)
			}
			_, speaker := newSpeechClients(cfg)
			if !speaker.Enabled() {
				return outputError(terrors.NewBackendUnavailable("speech credentials"))
			}
			voices, err := speaker.Voices(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{"voices": voices})
		},
	}
}

type deviceView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Bluetooth bool   `json:"bluetooth,omitempty"`
}

func devicesCmd() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List capture devices",
		Action: func(c *cli.Context) error {
			opts := audioOptionsFrom(c)
			opts.setup = false
			opts.device = ""
			actx, _, err := openAudio(opts)
			if err != nil {
				return outputError(terrors.NewBackendUnavailable("audio"))
			}
			defer actx.Close()
			devices, err := actx.Devices()
			if err != nil {
				return outputError(err)
			}
			views := make([]deviceView, 0, len(devices))
			for _, d := range devices {
				views = append(views, deviceView{ID: d.ID, Name: d.Name, Bluetooth: audio.IsBluetooth(d.Name)})
			}
			return outputJSON(c.App.Writer, map[string]any{"devices": views})
		},
	}
}

func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Run system diagnostics",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "interactive", Aliases: []string{"i"}, Usage: "Record and transcribe a test clip"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return outputError(err)
			}
			tr, speaker := newSpeechClients(cfg)
			env := doctor.Env{
				Config:      cfg,
				Out:         c.App.Writer,
				In:          c.App.Reader,
				Interactive: c.Bool("interactive"),
				Transcriber: tr,
				Speaker:     speaker,
				Copy:        clipboard.Copy,
				Read:        clipboard.Read,
			}
			if s, err := openStore(c.Context, cfg); err == nil {
				env.Store = s
				defer s.Close()
			} else {
				log.Errorf("doctor: store: %v", err)
			}
			if actx, _, err := openAudio(audioOptionsFrom(c)); err == nil {
				env.Audio = actx
				defer actx.Close()
			}
			if code := doctor.Run(c.Context, env); code != 0 {
				return cli.Exit("", code)
			}
			return nil
		},
	}
}

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve threads and messages as MCP tools over stdio",
		Action: func(c *cli.Context) error {
			return withSession(c, false, func(sess *session) error {
				return mcp.Run(sess.coord, version)
			})
		},
	}
}

func deviceIDCmd() *cli.Command {
	return &cli.Command{
		Name:  "device-id",
		Usage: "Print this device's id",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return outputError(err)
			}
			dir := cfg.Device.ConfigDir
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return outputError(err)
			}
			id, err := device.Resolve(dir, cfg.Device.Override)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{"device_id": id, "path": device.Path(dir)})
		},
	}
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats err for the command line.
func outputError(err error) error {
	var te *terrors.Error
	if errors.As(err, &te) {
		return cli.Exit(fmt.Sprintf("[%s] %s", te.Code, te.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
