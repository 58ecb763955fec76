package commands

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/mscno/staffsync/pkg/oskeyring"
)

type AuthCmd struct {
	SetKey    AuthSetKeyCmd    `cmd:"" help:"Store a registry API key in the OS keyring"`
	RemoveKey AuthRemoveKeyCmd `cmd:"" help:"Remove a registry API key from the OS keyring"`
	Status    AuthStatusCmd    `cmd:"" help:"Show which registry API keys are stored"`
}

type AuthSetKeyCmd struct {
	Name  string `arg:"" help:"Key name (registry-api-key, registry-legacy-api-key)"`
	Value string `help:"Key value; read from stdin when empty"`
}

func (c *AuthSetKeyCmd) Run(ctx *cliCtx) error {
	if !oskeyring.IsKnownUser(c.Name) {
		return fmt.Errorf("unknown key %q, expected one of %s", c.Name, strings.Join(oskeyring.KnownUsers, ", "))
	}
	value := c.Value
	if value == "" && ctx.In != nil {
		line, err := bufio.NewReader(ctx.In).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading key from stdin: %w", err)
		}
		value = strings.TrimSpace(line)
	}
	if value == "" {
		return errors.New("empty key value")
	}
	if err := ctx.Keyring.Set(oskeyring.ServiceName, c.Name, value); err != nil {
		return fmt.Errorf("failed to store %s: %w", c.Name, err)
	}
	ctx.Logger.Debug("Stored key in keyring", "key", c.Name)
	fmt.Printf("Stored %s\n", c.Name)
	return nil
}

type AuthRemoveKeyCmd struct {
	Name string `arg:"" help:"Key name (registry-api-key, registry-legacy-api-key)"`
}

func (c *AuthRemoveKeyCmd) Run(ctx *cliCtx) error {
	if !oskeyring.IsKnownUser(c.Name) {
		return fmt.Errorf("unknown key %q, expected one of %s", c.Name, strings.Join(oskeyring.KnownUsers, ", "))
	}
	if err := ctx.Keyring.Delete(oskeyring.ServiceName, c.Name); err != nil {
		return fmt.Errorf("failed to remove %s: %w", c.Name, err)
	}
	fmt.Printf("Removed %s\n", c.Name)
	return nil
}

type AuthStatusCmd struct{}

func (c *AuthStatusCmd) Run(ctx *cliCtx) error {
	for _, name := range oskeyring.KnownUsers {
		_, err := ctx.Keyring.Get(oskeyring.ServiceName, name)
		switch {
		case err == nil:
			fmt.Printf("%s: stored\n", name)
		case errors.Is(err, oskeyring.ErrNotFound):
			fmt.Printf("%s: not stored\n", name)
		default:
			return err
		}
	}
	return nil
}
