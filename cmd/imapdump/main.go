// Command imapdump saves every message of an IMAP mailbox to a directory.
//
// Each message is streamed to "<uid>.eml" straight from the connection, then
// its subject is printed.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/rnwood/go-imapcore"
	"github.com/rnwood/go-imapcore/imapclient"
)

var (
	configPath string
	address    string
	insecure   bool
	username   string
	password   string
	mailbox    string
	readOnly   bool
	outDir     string
	debug      bool
)

func main() {
	flag.StringVar(&configPath, "config", "", "YAML configuration file")
	flag.StringVar(&address, "address", "", "server address (host:port)")
	flag.BoolVar(&insecure, "insecure", false, "connect without TLS")
	flag.StringVar(&username, "username", "", "username")
	flag.StringVar(&password, "password", "", "password")
	flag.StringVar(&mailbox, "mailbox", "INBOX", "mailbox to dump")
	flag.BoolVar(&readOnly, "examine", false, "open the mailbox read-only")
	flag.StringVar(&outDir, "out", ".", "output directory")
	flag.BoolVar(&debug, "debug", false, "print all commands and responses")
	flag.Parse()

	cfg := defaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = loadConfig(configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "address":
			cfg.Address = address
		case "insecure":
			cfg.Insecure = insecure
		case "username":
			cfg.Username = username
		case "password":
			cfg.Password = password
		case "mailbox":
			cfg.Mailbox = mailbox
		case "examine":
			cfg.ReadOnly = readOnly
		case "out":
			cfg.OutDir = outDir
		}
	})
	if err := cfg.validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logLevel := slog.LevelInfo
	var debugWriter io.Writer
	if debug {
		logLevel = slog.LevelDebug
		debugWriter = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	options := &imapclient.Options{
		DebugWriter:         debugWriter,
		Logger:              logger,
		LiteralPlus:         cfg.LiteralPlus,
		ContinuationTimeout: cfg.ContinuationTimeout,
		CommandTimeout:      cfg.CommandTimeout,
	}
	if err := run(cfg, options); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *Config, options *imapclient.Options) error {
	dial := imapclient.DialTLS
	if cfg.Insecure {
		dial = imapclient.DialInsecure
	}
	c, err := dial(cfg.Address, options)
	if err != nil {
		return fmt.Errorf("failed to dial IMAP server: %w", err)
	}
	defer c.Close()

	if err := c.WaitGreeting(); err != nil {
		return fmt.Errorf("server rejected connection: %w", err)
	}
	if err := c.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		return fmt.Errorf("failed to login: %w", err)
	}

	mbox, err := c.Select(cfg.Mailbox, &imap.SelectOptions{ReadOnly: cfg.ReadOnly}).Wait()
	if err != nil {
		return fmt.Errorf("failed to select %v: %w", cfg.Mailbox, err)
	}
	options.Logger.Info("mailbox selected", "mailbox", mbox.Name(), "messages", mbox.NumMessages())

	if mbox.NumMessages() > 0 {
		if err := dump(c, cfg.OutDir); err != nil {
			return err
		}
	}

	return c.Logout().Wait()
}

// dump streams all messages of the selected mailbox to files.
func dump(c *imapclient.Client, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var (
		mutex   sync.Mutex
		files   []*os.File
		openErr error
	)
	handler := func(ctx *imapclient.FetchStreamContext) {
		name := filepath.Join(dir, fmt.Sprintf("%v.eml", ctx.Response().UID()))
		f, err := os.Create(name)
		mutex.Lock()
		defer mutex.Unlock()
		if err != nil {
			if openErr == nil {
				openErr = err
			}
			return
		}
		files = append(files, f)
		ctx.Sink = f
	}

	var all imap.UIDSet
	all.AddRange(1, 0)
	streamErrs, err := c.UIDFetch(all, []string{"BODY.PEEK[]"}, handler).Wait()
	for _, f := range files {
		f.Close()
	}
	if err != nil {
		return fmt.Errorf("FETCH failed: %w", err)
	}
	if openErr != nil {
		return fmt.Errorf("failed to create output file: %w", openErr)
	}
	for _, streamErr := range streamErrs {
		log.Printf("Failed to save message: %v", streamErr)
	}

	for _, f := range files {
		subject, err := readSubject(f.Name())
		if err != nil {
			log.Printf("%v: failed to parse message: %v", f.Name(), err)
			continue
		}
		fmt.Printf("%v\t%v\n", filepath.Base(f.Name()), subject)
	}
	return nil
}

func readSubject(name string) (string, error) {
	f, err := os.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	mr, err := mail.CreateReader(f)
	if err != nil {
		return "", err
	}
	defer mr.Close()
	return mr.Header.Subject()
}
