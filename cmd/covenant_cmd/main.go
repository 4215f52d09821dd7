package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/TEENet-io/covenant-go/cmd"
	"github.com/TEENet-io/covenant-go/common"
	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/TEENet-io/covenant-go/logconfig"
	"github.com/TEENet-io/covenant-go/reporter"
)

var awaitFlag = &cli.BoolFlag{
	Name:  "await",
	Usage: "wait for the transaction to confirm before returning",
}

func main() {
	app := &cli.App{
		Name:  "covenant",
		Usage: "deploy and drive bitcoin covenant contracts",
		Commands: []*cli.Command{
			{
				Name:      "deploy",
				Usage:     "fund a new contract",
				ArgsUsage: "<family> <family args...>",
				Flags:     []cli.Flag{awaitFlag, &cli.StringFlag{Name: "id", Usage: "handle id, random when empty"}},
				Action:    withEngine(deploy),
			},
			{
				Name:      "call",
				Usage:     "advance a contract",
				ArgsUsage: "<id> <method> <method args...>",
				Flags:     []cli.Flag{awaitFlag},
				Action:    withEngine(call),
			},
			{
				Name:      "settle",
				Usage:     "run a terminal method on a contract",
				ArgsUsage: "<id> <method> <method args...>",
				Action:    withEngine(settle),
			},
			{
				Name:      "await",
				Usage:     "wait for the tip of a contract to confirm",
				ArgsUsage: "<id>",
				Action:    withEngine(await),
			},
			{
				Name:      "show",
				Usage:     "print a stored contract",
				ArgsUsage: "<id>",
				Action:    withEngine(show),
			},
			{
				Name:   "list",
				Usage:  "print every stored contract",
				Action: withEngine(list),
			},
			{
				Name:   "serve",
				Usage:  "serve contract status over http",
				Action: withEngine(serve),
			},
		},
	}

	// Create a cancelable context and signal handler for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func withEngine(fn func(c *cli.Context, e *cmd.Engine) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := cmd.LoadConfig(viper.New())
		if err != nil {
			return err
		}
		if err := logconfig.ConfigLogger(cfg.LogLevel, cfg.LogJson == "true"); err != nil {
			return err
		}
		e, err := cmd.NewEngine(cfg)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(c, e)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deploy(c *cli.Context, e *cmd.Engine) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: deploy <family> <family args...>")
	}
	d, err := e.ParseDeployment(c.Context, c.Args().First(), c.Args().Tail())
	if err != nil {
		return err
	}
	h, err := e.Orch.Deploy(c.Context, d.Params(c.String("id")))
	if err != nil {
		return err
	}
	if d.Commitment != nil {
		fmt.Printf("Keep the salt to reveal later: %s\n", common.ByteSliceToPureHexStr(d.Commitment.Salt))
	}
	return finish(c, e, h)
}

func call(c *cli.Context, e *cmd.Engine) error {
	h, act, err := loadAction(c, e)
	if err != nil {
		return err
	}
	if _, err := e.Orch.Call(c.Context, h, act); err != nil {
		return err
	}
	return finish(c, e, h)
}

func settle(c *cli.Context, e *cmd.Engine) error {
	h, act, err := loadAction(c, e)
	if err != nil {
		return err
	}
	txid, err := e.Orch.Settle(c.Context, h, act)
	if err != nil {
		return err
	}
	fmt.Printf("Settled %s in %s\n", h.ID(), txid)
	return printJSON(reporter.NewHandleView(h))
}

func await(c *cli.Context, e *cmd.Engine) error {
	h, err := e.Orch.Load(c.Args().First())
	if err != nil {
		return err
	}
	n, err := e.Orch.Await(c.Context, h)
	if err != nil {
		return err
	}
	fmt.Printf("%s confirmed %d times\n", h.Tip(), n)
	return nil
}

func show(c *cli.Context, e *cmd.Engine) error {
	h, err := e.Store.Load(c.Args().First())
	if err != nil {
		return err
	}
	return printJSON(reporter.NewHandleView(h))
}

func list(c *cli.Context, e *cmd.Engine) error {
	handles, err := e.Store.List()
	if err != nil {
		return err
	}
	views := make([]reporter.HandleView, 0, len(handles))
	for _, h := range handles {
		views = append(views, reporter.NewHandleView(h))
	}
	return printJSON(views)
}

func serve(c *cli.Context, e *cmd.Engine) error {
	fmt.Println("Serving contract status... press Ctrl+C to stop")
	return e.Serve(c.Context)
}

func loadAction(c *cli.Context, e *cmd.Engine) (*covenant.Handle, covenant.Action, error) {
	if c.NArg() < 2 {
		return nil, nil, fmt.Errorf("usage: %s <id> <method> <method args...>", c.Command.Name)
	}
	args := c.Args().Slice()
	h, err := e.Orch.Load(args[0])
	if err != nil {
		return nil, nil, err
	}
	act, err := e.ParseAction(h.State().Family, args[1], args[2:])
	if err != nil {
		return nil, nil, err
	}
	return h, act, nil
}

func finish(c *cli.Context, e *cmd.Engine, h *covenant.Handle) error {
	if c.Bool("await") {
		if _, err := e.Orch.Await(c.Context, h); err != nil {
			return err
		}
	}
	return printJSON(reporter.NewHandleView(h))
}
