package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agriagent/agriagent/internal/agent"
	"github.com/agriagent/agriagent/internal/farmcard"
	"github.com/agriagent/agriagent/internal/market"
)

// newAskCmd answers a single question without starting the server.
// Useful for smoke tests of the model and tool wiring.
func newAskCmd(opts *globalOpts) *cobra.Command {
	var location string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg, opts.logLevel)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			q := agent.Query{Query: strings.Join(args, " ")}
			if location != "" {
				q.Context = map[string]any{"location": location}
			}
			resp := a.agent.ReasonAndAct(cmd.Context(), q)
			return printResponse(cmd.OutOrStdout(), resp, opts.output)
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "farmer location passed as context")
	return cmd
}

func printResponse(w io.Writer, resp agent.Response, outputFmt string) error {
	if outputFmt == "json" {
		return writeIndented(w, resp)
	}
	fmt.Fprintln(w, resp.Text)
	for _, action := range resp.Actions {
		fmt.Fprintf(w, "  - %s\n", action)
	}
	return nil
}

// newCardCmd prints today's farm card.
func newCardCmd(opts *globalOpts) *cobra.Command {
	var location, crop string
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Print today's farm card",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var coords *market.Coordinates
			latSet, lonSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lon")
			if latSet != lonSet {
				return fmt.Errorf("--lat and --lon must be given together")
			}
			if latSet {
				if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
					return fmt.Errorf("coordinates (%v, %v) out of range", lat, lon)
				}
				coords = &market.Coordinates{Lat: lat, Lon: lon}
			}

			cfg, _, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg, opts.logLevel)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			card := a.cards.Generate(cmd.Context(), location, crop, coords)
			return printCard(cmd.OutOrStdout(), card, opts.output)
		},
	}
	f := cmd.Flags()
	f.StringVar(&location, "location", "Nairobi", "location name")
	f.StringVar(&crop, "crop", "Maize", "crop")
	f.Float64Var(&lat, "lat", 0, "latitude")
	f.Float64Var(&lon, "lon", 0, "longitude")
	return cmd
}

func printCard(w io.Writer, card farmcard.Card, outputFmt string) error {
	if outputFmt == "json" {
		return writeIndented(w, card)
	}
	fmt.Fprintf(w, "Farm card for %s (%s)\n", card.Location, card.Date)
	fmt.Fprintf(w, "  %-12s %s [%s]\n", "weather:", card.WeatherSummary, card.WeatherIcon)
	fmt.Fprintf(w, "  %-12s %s\n", "market:", card.MarketTrend)
	fmt.Fprintf(w, "  %-12s %s\n", "top action:", card.TopAction)
	fmt.Fprintf(w, "  %-12s %d/100\n", "crop health:", card.CropHealthScore)
	return nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
