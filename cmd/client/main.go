package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/muesli/termenv"
	"golang.org/x/sync/errgroup"

	"github.com/ZentaChain/zentalk-lite/pkg/config"
	"github.com/ZentaChain/zentalk-lite/pkg/network"
	"github.com/ZentaChain/zentalk-lite/pkg/protocol"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config file")
	server      = flag.String("server", config.DefaultServer, "Relay address (host:port or /ip4/<ip>/tcp/<port>)")
	passphrase  = flag.String("passphrase", "", "Shared passphrase (or ZENTALK_PASSPHRASE)")
	kdf         = flag.String("kdf", "sha256", "Key derivation: sha256, blake2b or pbkdf2")
	dialTimeout = flag.Duration("timeout", 0, "Dial timeout (default from config)")
)

// console prints coloured lines; colours degrade to plain text off a terminal.
// The receive and send goroutines share it.
type console struct {
	mu  sync.Mutex
	out *termenv.Output
}

func newConsole(w io.Writer) *console {
	return &console{out: termenv.NewOutput(w)}
}

func (c *console) print(s string)  { c.write(s) }
func (c *console) red(s string)    { c.colored(s, "1") }
func (c *console) green(s string)  { c.colored(s, "2") }
func (c *console) orange(s string) { c.colored(s, "208") }

func (c *console) colored(s, color string) {
	c.write(c.out.String(s).Foreground(c.out.Color(color)).String())
}

func (c *console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	out := newConsole(os.Stdout)

	cfg, err := loadConfig()
	if err != nil {
		out.red(fmt.Sprintf("Configuration invalide : %v", err))
		os.Exit(2)
	}

	if err := run(cfg, out, os.Stdin); err != nil {
		out.red(fmt.Sprintf("Erreur : %v", err))
		os.Exit(1)
	}
}

// loadConfig layers the config file, the environment and explicitly set flags over defaults
func loadConfig() (*config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if *configPath != "" {
		loaded, err := config.LoadClientConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if env := os.Getenv("ZENTALK_PASSPHRASE"); env != "" {
		cfg.Passphrase = env
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			cfg.Server = *server
		case "passphrase":
			cfg.Passphrase = *passphrase
		case "kdf":
			cfg.KDF = *kdf
		case "timeout":
			cfg.DialTimeout = *dialTimeout
		}
	})

	return cfg, cfg.Validate()
}

// run returns an error only when no session could be established; a session
// lost afterwards is reported on the console and ends normally
func run(cfg *config.ClientConfig, out *console, stdin io.Reader) error {
	key, err := cfg.Key()
	if err != nil {
		return err
	}
	addr, err := cfg.ServerAddr()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out.print(fmt.Sprintf("Tentative de connexion à %s ...", addr))

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	session, err := network.Dial(dialCtx, addr, key)
	cancel()
	if err != nil {
		if errors.Is(err, network.ErrServerFull) {
			out.orange(protocol.RejectedLine)
			return nil
		}
		return fmt.Errorf("connexion : %w", err)
	}
	defer session.Close()

	out.green("Connexion réussie au serveur.")
	out.print(fmt.Sprintf("Serveur : %s", protocol.FormatWelcome(session.ID())))
	out.print(" Tapez 'ID: message' pour envoyer un message ou '/list' pour voir les clients connectés.")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := session.Receive(func(in network.Incoming) {
			switch {
			case in.Unreadable:
				out.red(in.Text)
			case protocol.IsWarning(in.Text):
				out.orange(in.Text)
			case in.Identities != nil:
				out.print(listLine(in, session.ID()))
			default:
				out.print(in.Text)
			}
		})
		if err != nil {
			out.red(fmt.Sprintf("Erreur de communication : %v", err))
		}
		return nil
	})

	g.Go(func() error {
		return sendLoop(gctx, session, out, readLines(stdin))
	})

	_ = g.Wait()
	out.print("Connexion fermée.")
	return nil
}

// listLine marks the caller's own identity in a list response
func listLine(in network.Incoming, self int) string {
	if slices.Contains(in.Identities, self) {
		return fmt.Sprintf("%s (vous : %d)", in.Text, self)
	}
	return in.Text
}

// sendLoop forwards user input until exit, end of input or the session ending
func sendLoop(ctx context.Context, session *network.Session, out *console, lines <-chan string) error {
	defer session.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			err := session.Send(line)
			switch {
			case err == nil:
			case errors.Is(err, network.ErrExit):
				out.print("Déconnexion...")
				return nil
			case errors.Is(err, protocol.ErrMissingSeparator):
				out.orange("Format invalide. Utilisez 'ID: message'")
			case errors.Is(err, protocol.ErrInvalidRecipient):
				out.orange("L'ID du destinataire doit être un nombre.")
			case errors.Is(err, network.ErrNotConnected):
				return nil
			default:
				out.red(fmt.Sprintf("Erreur : %v", err))
				return nil
			}
		}
	}
}

// readLines feeds stdin lines to a channel so the send loop can also watch the session
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
