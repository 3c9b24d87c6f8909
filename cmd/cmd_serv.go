package main

import (
	"github.com/edmongo/edmongo/serv"
	"github.com/spf13/cobra"
)

// servCmd is the cobra CLI command for the serve subcommand
func servCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"serv"},
		Short:   "Run the edmongo service",
		Run:     cmdServ,
	}
	return c
}

// cmdServ is the handler for the serve subcommand
func cmdServ(*cobra.Command, []string) {
	setup(cpath)

	s, err := serv.NewHttpService(conf)
	if err != nil {
		log.Fatalf("%s", err)
	}

	if err := s.Start(); err != nil {
		log.Fatalf("%s", err)
	}
}
