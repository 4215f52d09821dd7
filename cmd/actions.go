package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/TEENet-io/covenant-go/commitreveal"
	"github.com/TEENet-io/covenant-go/common"
	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/TEENet-io/covenant-go/covenant/auction"
	"github.com/TEENet-io/covenant-go/covenant/counter"
	"github.com/TEENet-io/covenant-go/covenant/hashlock"
	"github.com/TEENet-io/covenant-go/covenant/tictactoe"
	"github.com/TEENet-io/covenant-go/orchestrator"
)

// Deployment is a parsed deploy command.
type Deployment struct {
	State *covenant.ContractState
	Value int64
	// Commitment is set for hashlock; its secret and salt must be kept
	// to reveal later.
	Commitment *commitreveal.Commitment
}

func (d *Deployment) Params(id string) orchestrator.DeployParams {
	return orchestrator.DeployParams{ID: id, State: d.State, Value: d.Value}
}

// pubKey accepts a hex public key, or "self" for the configured key.
func (e *Engine) pubKey(arg string) ([]byte, error) {
	if arg == "self" {
		return e.Provider.Operator().SerializedPubKey(), nil
	}
	return common.HexStrToBytes(arg)
}

func wantArgs(usage string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

// ParseDeployment builds the initial state of family from cli arguments:
//
//	tictactoe <value> <alice> <bob>
//	auction   <auctioneer> <deadline> <startingBid>
//	counter   <value> <owner>
//	hashlock  <value> <owner> <lockUntil> <secret>
func (e *Engine) ParseDeployment(ctx context.Context, family string, args []string) (*Deployment, error) {
	template, err := e.Template(ctx, family)
	if err != nil {
		return nil, err
	}

	switch family {
	case tictactoe.FamilyName:
		if err := wantArgs("tictactoe <value> <alice> <bob>", args, 3); err != nil {
			return nil, err
		}
		value, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return nil, err
		}
		alice, err := e.pubKey(args[1])
		if err != nil {
			return nil, err
		}
		bob, err := e.pubKey(args[2])
		if err != nil {
			return nil, err
		}
		s, err := tictactoe.New(template, alice, bob)
		return &Deployment{State: s, Value: value}, err

	case auction.FamilyName:
		if err := wantArgs("auction <auctioneer> <deadline> <startingBid>", args, 3); err != nil {
			return nil, err
		}
		auctioneer, err := e.pubKey(args[0])
		if err != nil {
			return nil, err
		}
		deadline, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return nil, err
		}
		bid, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return nil, err
		}
		s, err := auction.New(template, auctioneer, uint32(deadline), bid)
		return &Deployment{State: s, Value: bid}, err

	case counter.FamilyName:
		if err := wantArgs("counter <value> <owner>", args, 2); err != nil {
			return nil, err
		}
		value, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return nil, err
		}
		owner, err := e.pubKey(args[1])
		if err != nil {
			return nil, err
		}
		s, err := counter.New(template, owner)
		return &Deployment{State: s, Value: value}, err

	case hashlock.FamilyName:
		if err := wantArgs("hashlock <value> <owner> <lockUntil> <secret>", args, 4); err != nil {
			return nil, err
		}
		value, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return nil, err
		}
		owner, err := e.pubKey(args[1])
		if err != nil {
			return nil, err
		}
		lockUntil, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return nil, err
		}
		c, err := commitreveal.Commit([]byte(args[3]))
		if err != nil {
			return nil, err
		}
		s, err := hashlock.New(template, owner, uint32(lockUntil), c)
		return &Deployment{State: s, Value: value, Commitment: c}, err
	}
	return nil, fmt.Errorf("%w: %s", covenant.ErrUnknownFamily, family)
}

// ParseAction turns a cli method call into an action of family:
//
//	tictactoe placeMove <player> <cell>
//	auction   bid <bidder> <amount> | close
//	counter   increment | withdraw
//	hashlock  reveal <secret> <saltHex> <recipient> | claimTimeout
func (e *Engine) ParseAction(family, method string, args []string) (covenant.Action, error) {
	switch family + "." + method {
	case "tictactoe.placeMove":
		if err := wantArgs("placeMove <player> <cell>", args, 2); err != nil {
			return nil, err
		}
		player, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, err
		}
		cell, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, err
		}
		return tictactoe.PlaceMove{Player: player, Cell: cell}, nil

	case "auction.bid":
		if err := wantArgs("bid <bidder> <amount>", args, 2); err != nil {
			return nil, err
		}
		bidder, err := e.pubKey(args[0])
		if err != nil {
			return nil, err
		}
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return nil, err
		}
		return auction.RaiseBid{Bidder: bidder, Amount: amount}, nil

	case "auction.close":
		return auction.Close{}, wantArgs("close", args, 0)
	case "counter.increment":
		return counter.Increment{}, wantArgs("increment", args, 0)
	case "counter.withdraw":
		return counter.Withdraw{}, wantArgs("withdraw", args, 0)
	case "hashlock.claimTimeout":
		return hashlock.ClaimTimeout{}, wantArgs("claimTimeout", args, 0)

	case "hashlock.reveal":
		if err := wantArgs("reveal <secret> <saltHex> <recipient>", args, 3); err != nil {
			return nil, err
		}
		salt, err := common.HexStrToBytes(args[1])
		if err != nil {
			return nil, err
		}
		recipient, err := e.pubKey(args[2])
		if err != nil {
			return nil, err
		}
		return hashlock.Reveal{Secret: []byte(args[0]), Salt: salt, Recipient: recipient}, nil
	}
	return nil, covenant.Illegal("%s has no method %s", family, method)
}
