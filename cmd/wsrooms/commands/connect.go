package commands

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ramory-l/wsrooms"
	"github.com/ramory-l/wsrooms/frame"
)

var (
	connectRooms  []string
	connectEvents []string
	listenOnly    bool
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect URL",
	Short: "Connects to a relay and prints room events",
	Long: `connect dials a wsrooms relay, joins the given rooms once the
connection is open and prints every membership change and every event
named with --event.

Each line read from stdin is sent as "room event payload". The payload is
optional and sent as text.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func init() {
	RootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringSliceVarP(&connectRooms, "room", "r", nil, "room to join (repeatable)")
	connectCmd.Flags().StringSliceVarP(&connectEvents, "event", "e", []string{"message"}, "application event to print (repeatable)")
	connectCmd.Flags().BoolVarP(&listenOnly, "listen", "l", false, "do not read events to send from stdin")
	connectCmd.Flags().StringP("format", "f", formatText, "output format (text, json or yaml)")
	viper.BindPFlag("connect.format", connectCmd.Flags().Lookup("format"))
	connectCmd.Flags().Duration("join-timeout", 10*time.Second, "give up on joins not answered in time (0 waits forever)")
	viper.BindPFlag("connect.joinTimeout", connectCmd.Flags().Lookup("join-timeout"))
}

func runConnect(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	enc, err := encodingSetting()
	if err != nil {
		return err
	}
	out, err := newPrinter(cmd.OutOrStdout(), viper.GetString("connect.format"))
	if err != nil {
		return err
	}

	config := wsrooms.DefaultConfig()
	config.Encoding = enc
	config.JoinTimeout = viper.GetDuration("connect.joinTimeout")
	config.Log = log

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := wsrooms.Dial(ctx, args[0], config)
	if err != nil {
		return err
	}
	w := &watcher{
		out:    out,
		log:    log,
		codec:  frame.Codec{Encoding: enc},
		events: connectEvents,
	}
	w.watch(conn.Root())

	if err := conn.WaitOpen(ctx); err != nil {
		conn.Close()
		return errors.Wrap(err, "open connection")
	}
	for _, name := range connectRooms {
		room, err := conn.Join(name)
		if err != nil {
			conn.Close()
			return err
		}
		w.watch(room)
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		select {
		case <-conn.Done():
			return conn.Err()
		case <-ctx.Done():
			conn.Leave()
			<-conn.Done()
			return nil
		}
	})

	if !listenOnly {
		lines := scanLines(cmd.InOrStdin())
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						cancel()
						return nil
					}
					if err := sendLine(conn, line); err != nil {
						log.WithField("error", err).Warn("Cannot send")
					}
				}
			}
		})
	}

	return g.Wait()
}

// watcher prints the events of every room it watches.
type watcher struct {
	out    *printer
	log    *logrus.Logger
	codec  frame.Codec
	events []string
}

func (w *watcher) watch(room *wsrooms.Room) {
	name := room.Name()
	show := func(rec eventRecord) {
		rec.Time = time.Now()
		rec.Room = name
		if err := w.out.Print(rec); err != nil {
			w.log.WithField("error", err).Error("Cannot print event")
		}
	}

	room.On(wsrooms.EventOpen, func(args ...interface{}) {
		show(eventRecord{Event: wsrooms.EventOpen, Source: room.ID()})
	})
	room.On(wsrooms.EventClose, func(args ...interface{}) {
		show(eventRecord{Event: wsrooms.EventClose})
	})
	room.OnError(func(err error) {
		show(eventRecord{Event: wsrooms.EventError, Payload: err.Error()})
	})
	for _, event := range []string{wsrooms.EventJoined, wsrooms.EventLeft} {
		room.OnMember(event, func(id string) {
			show(eventRecord{Event: event, Source: id})
		})
	}
	for _, event := range w.events {
		room.OnMessage(event, func(payload []byte, src string) {
			show(eventRecord{Event: event, Source: src, Payload: w.codec.PayloadString(payload)})
		})
	}
}

// scanLines feeds non-empty lines from r into the returned channel, which is
// closed at EOF.
func scanLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				lines <- line
			}
		}
	}()
	return lines
}

// parseLine splits "room event payload" into its parts. The payload may
// contain spaces and may be omitted.
func parseLine(line string) (room, event, payload string, err error) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", errors.Errorf("want \"room event [payload]\", got %q", line)
	}
	room, event = parts[0], parts[1]
	if len(parts) == 3 {
		payload = strings.TrimSpace(parts[2])
	}
	return room, event, payload, nil
}

func sendLine(conn *wsrooms.Conn, line string) error {
	name, event, payload, err := parseLine(line)
	if err != nil {
		return err
	}
	room := conn.Root()
	if name != wsrooms.RootRoom {
		var ok bool
		if room, ok = conn.Room(name); !ok {
			return errors.Errorf("room %q not joined", name)
		}
	}
	return room.Send(event, payload)
}
