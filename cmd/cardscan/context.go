package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"cardscan/internal/apiclient"
	"cardscan/internal/config"
	"cardscan/internal/services"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string
	tokenFlag  *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, apiFlag, tokenFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
		tokenFlag:  tokenFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(flagValue(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// client builds an API client for the configured daemon address. Flags win
// over the config file, which is only consulted when a flag is missing.
func (c *commandContext) client() (*apiclient.Client, error) {
	bind := flagValue(c.apiFlag)
	token := flagValue(c.tokenFlag)
	if bind == "" || token == "" {
		cfg, err := c.ensureConfig()
		switch {
		case err != nil && bind == "":
			return nil, fmt.Errorf("load config: %w", err)
		case err == nil:
			if bind == "" {
				bind = cfg.Paths.APIBind
			}
			if token == "" {
				token = cfg.Paths.APIToken
			}
		}
	}
	return apiclient.New(bind, apiclient.WithToken(token))
}

func (c *commandContext) withClient(fn func(*apiclient.Client) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	return fn(client)
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}

// requiresConfig reports whether cmd or a parent needs a valid local
// configuration before running. API commands load it lazily instead.
func requiresConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations[annotationRequiresConfig] == "true" {
			return true
		}
	}
	return false
}

const annotationRequiresConfig = "requiresConfig"

var requireConfig = map[string]string{annotationRequiresConfig: "true"}

// describeError turns API failures into one readable line.
func describeError(err error) string {
	if apiclient.IsUnavailable(err) {
		return fmt.Sprintf("%v\nIs the daemon running? Start it with `cardscan daemon run` or `cardscand`.", err)
	}
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Body.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		if services.Retryable(err) {
			return fmt.Sprintf("error: %s (temporary, try again)", msg)
		}
		return fmt.Sprintf("error: %s", msg)
	}
	return fmt.Sprintf("error: %v", err)
}

// exitCode follows sysexits: 69 for an unreachable daemon, 65 for rejected
// input, 75 for temporary failures.
func exitCode(err error) int {
	if apiclient.IsUnavailable(err) {
		return 69
	}
	switch services.Classify(err) {
	case services.KindRetry:
		return 75
	case services.KindFixRequest:
		return 65
	default:
		return 1
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
