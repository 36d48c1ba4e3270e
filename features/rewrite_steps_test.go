package features

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/cucumber/godog"

	"github.com/johnjansen/marlin/message"
	"github.com/johnjansen/marlin/rewrite"
)

// RewriteSuite drives the rewrite-chain scenario directly against
// rewrite.RuleSet.Evaluate: rule 1 applies first, and rule 2 only
// applies when rule 1 left the message unchanged, mirroring
// rewrite.Chain.ProcessMessage's "first mutation wins" semantics
// without needing a live backend for a pure-evaluation scenario.
type RewriteSuite struct {
	rules [2]rewrite.RuleSet
	msg   *message.Message
}

func (rws *RewriteSuite) reset() {
	rws.rules = [2]rewrite.RuleSet{}
	rws.msg = nil
}

func (rws *RewriteSuite) rewriterMapsServerTo(index, from, to string) error {
	i, err := ruleIndex(index)
	if err != nil {
		return err
	}
	rws.rules[i].Server = rewrite.Mapping{Match: from, Target: to}
	return nil
}

func (rws *RewriteSuite) rewriterMapsPortTo(index, from, to string) error {
	i, err := ruleIndex(index)
	if err != nil {
		return err
	}
	rws.rules[i].Port = rewrite.Mapping{Match: from, Target: to}
	return nil
}

func ruleIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return n - 1, nil
}

func (rws *RewriteSuite) iEvaluateTheChainAgainst(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	port := 0
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	}
	msg := &message.Message{Scheme: u.Scheme, Host: u.Hostname(), Port: port, Path: u.Path}
	for _, rs := range rws.rules {
		if rs.Evaluate(msg) > 0 {
			break
		}
	}
	rws.msg = msg
	return nil
}

func (rws *RewriteSuite) theResultingURLIsWithHostRewrittenTo(_path, host string) error {
	if rws.msg.Host != host {
		return fmt.Errorf("expected host %q, got %q", host, rws.msg.Host)
	}
	return nil
}

func (rws *RewriteSuite) thePortIsUnchanged() error {
	if rws.msg.Port != 0 {
		return fmt.Errorf("expected port to stay unset, got %d", rws.msg.Port)
	}
	return nil
}

func (rws *RewriteSuite) theResultingURLHasPort(port string) error {
	want, _ := strconv.Atoi(port)
	if rws.msg.Port != want {
		return fmt.Errorf("expected port %d, got %d", want, rws.msg.Port)
	}
	return nil
}

// InitializeRewriteScenario registers the rewrite-chain steps.
func InitializeRewriteScenario(ctx *godog.ScenarioContext) {
	rws := &RewriteSuite{}
	ctx.Before(func(gctx context.Context, sc *godog.Scenario) (context.Context, error) {
		rws.reset()
		return gctx, nil
	})

	ctx.Step(`^rewriter "([^"]*)" maps server "([^"]*)" to "([^"]*)"$`, rws.rewriterMapsServerTo)
	ctx.Step(`^rewriter "([^"]*)" maps port "([^"]*)" to "([^"]*)"$`, rws.rewriterMapsPortTo)
	ctx.Step(`^I evaluate the chain against "([^"]*)"$`, rws.iEvaluateTheChainAgainst)
	ctx.Step(`^the resulting URL is "([^"]*)" with host rewritten to "([^"]*)"$`, rws.theResultingURLIsWithHostRewrittenTo)
	ctx.Step(`^the port is unchanged$`, rws.thePortIsUnchanged)
	ctx.Step(`^the resulting URL has port "([^"]*)"$`, rws.theResultingURLHasPort)
}
