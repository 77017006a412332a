package main

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/mehebubhossain/apex-mdapi/internal/config"
	"github.com/mehebubhossain/apex-mdapi/internal/remote"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// soapOperations builds the metadata API client from the resolved config.
func (c *commandContext) soapOperations() (remote.Operations, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return remote.NewSOAPClient(remote.SOAPConfig{
		Endpoint:  cfg.SOAPEndpoint(),
		SessionID: cfg.ResolveSessionID(),
		Timeout:   time.Duration(cfg.Salesforce.RequestTimeout) * time.Second,
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
