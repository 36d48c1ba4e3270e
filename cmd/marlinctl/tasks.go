package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/markbates/grift/grift"

	"github.com/johnjansen/marlin/config"
	"github.com/johnjansen/marlin/errs"
	"github.com/johnjansen/marlin/logging"
	"github.com/johnjansen/marlin/mail"
	"github.com/johnjansen/marlin/message"
	"github.com/johnjansen/marlin/report"
	"github.com/johnjansen/marlin/rewrite"
	"github.com/johnjansen/marlin/router"
	"github.com/johnjansen/marlin/site"
	"github.com/johnjansen/marlin/supervisor"
)

// Registering tasks from init(), grouped one func per task, follows
// the teacher's own grifts.go: registerMigrationTasks/
// registerJobTasks called from init so importing the binary is enough
// to populate grift's task table.
func init() {
	registerServeTask()
	registerSitesListTask()
	registerConfigValidateTask()
	registerRewriteVerifyTask()
}

// loadConfig loads the TOML file named by the task's first argument,
// defaulting to "marlin.toml" in the working directory.
func loadConfig(c *grift.Context) (*config.Source, error) {
	path := "marlin.toml"
	if len(c.Args) > 0 {
		path = c.Args[0]
	}
	src := config.NewSource()
	if err := src.LoadFile(path); err != nil {
		return nil, err
	}
	return src, nil
}

func registerServeTask() {
	_ = grift.Namespace("marlin", func() {
		_ = grift.Desc("serve", "Run the server from a config file, draining on SIGINT/SIGTERM")
		_ = grift.Add("serve", func(c *grift.Context) error {
			src, err := loadConfig(c)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			port := src.GetGlobal("Server", "Port").IntOr(8080)
			prefix := src.GetGlobal("Server", "BaseURL").StringOr("/")
			logfile := src.GetGlobal("Logging", "Logfile").String()
			operator := src.GetGlobal("Reporting", "OperatorEmail").String()

			sink, err := logging.NewSink(logging.Options{Logfile: logfile})
			if err != nil {
				return fmt.Errorf("opening log sink: %w", err)
			}
			opts := report.Options{Sink: sink}
			if operator != "" {
				opts.Notify = mail.NotifyReportRecord(mail.GetSender(), operator)
			}
			rpt := report.New(opts)

			reg := site.NewRegistry()
			ref, err := reg.CreateSite(site.KindWeak, false, port, prefix, false)
			if err != nil {
				return fmt.Errorf("creating default site: %w", err)
			}
			s := reg.Site(ref)
			s.AddHandler(http.MethodGet, defaultHandler(src))
			if err := reg.StartSite(ref); err != nil {
				return fmt.Errorf("starting default site: %w", err)
			}

			rt := router.New(port, reg, rpt)

			sup := supervisor.New(rpt, 15*time.Second)
			if err := sup.Configure(port, rt); err != nil {
				return err
			}
			if err := sup.Start(); err != nil {
				return err
			}
			fmt.Printf("marlin: serving %s on :%d\n", prefix, port)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			fmt.Println("marlin: draining...")
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := sup.Drain(ctx); err != nil {
				return fmt.Errorf("drain: %w", err)
			}
			fmt.Println("marlin: stopped")
			return nil
		})
	})
}

// defaultHandler serves a trivial 200 for any GET that the configured
// rewrite chain does not claim, so marlin:serve has something to
// dispatch to out of the box.
func defaultHandler(src *config.Source) site.HandlerFunc {
	chain := rewrite.NewChain()
	rs := rewrite.LoadRuleSet(src, "")
	chain.AddRewriter(rewrite.NewRewriter("config", rs, nil))

	return func(w http.ResponseWriter, r *http.Request, routing []string) site.Upgrade {
		msg := message.FromRequest(r)
		msg.Routing = routing
		if chain.ProcessMessage(w, r, msg) {
			return site.UpgradeNone
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Marlin\n"))
		return site.UpgradeNone
	}
}

func registerSitesListTask() {
	_ = grift.Namespace("marlin", func() {
		_ = grift.Desc("sites:list", "List the site a config file would create")
		_ = grift.Add("sites:list", func(c *grift.Context) error {
			src, err := loadConfig(c)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			port := src.GetGlobal("Server", "Port").IntOr(8080)
			prefix := src.GetGlobal("Server", "BaseURL").StringOr("/")
			fmt.Printf("%-6d %s\n", port, prefix)
			return nil
		})
	})
}

func registerConfigValidateTask() {
	_ = grift.Namespace("marlin", func() {
		_ = grift.Desc("config:validate", "Validate a config file's Server section")
		_ = grift.Add("config:validate", func(c *grift.Context) error {
			src, err := loadConfig(c)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			port := src.GetGlobal("Server", "Port").IntOr(0)
			if err := validatePort(port); err != nil {
				return err
			}
			fmt.Printf("OK: Server.Port=%d\n", port)
			return nil
		})
	})
}

// validatePort enforces spec.md §6's Server.Port rule: "1..65535, must
// be 80/443 or >=1025".
func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return errs.New(errs.ConfigInvalid, fmt.Sprintf("Server.Port %d out of range 1..65535", port))
	}
	if port != 80 && port != 443 && port < 1025 {
		return errs.New(errs.ConfigInvalid, fmt.Sprintf("Server.Port %d must be 80, 443, or >=1025", port))
	}
	return nil
}

func registerRewriteVerifyTask() {
	_ = grift.Namespace("marlin", func() {
		_ = grift.Desc("rewrite:verify", "Evaluate a config file's rewrite rules against a URL: <config> <url> [routing...]")
		_ = grift.Add("rewrite:verify", func(c *grift.Context) error {
			if len(c.Args) < 2 {
				return fmt.Errorf("usage: marlinctl marlin:rewrite:verify <config> <url> [routing...]")
			}
			src := config.NewSource()
			if err := src.LoadFile(c.Args[0]); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			msg, err := messageFromURL(c.Args[1], c.Args[2:])
			if err != nil {
				return err
			}

			rs := rewrite.LoadRuleSet(src, "")
			changes := rs.Evaluate(msg)

			fmt.Printf("changes: %d\n", changes)
			fmt.Printf("url: %s\n", msg.URL().String())
			fmt.Printf("routing: %v\n", msg.Routing)
			return nil
		})
	})
}

func messageFromURL(raw string, routing []string) (*message.Message, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}
	port := 0
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	}
	return &message.Message{
		Scheme:  u.Scheme,
		Host:    u.Hostname(),
		Port:    port,
		Path:    u.Path,
		Query:   u.Query(),
		Anchor:  u.Fragment,
		Routing: routing,
	}, nil
}
