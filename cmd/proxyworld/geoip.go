package main

import (
	"fmt"
	"net"
	"os"
	"text/tabwriter"

	"github.com/cuemby/proxyworld/pkg/geodb"
	"github.com/spf13/cobra"
)

var geoipCmd = &cobra.Command{
	Use:   "geoip IP...",
	Short: "Look up the country GEOIP rules would match for each IP",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("geodb")
		if path == "" {
			return fmt.Errorf("--geodb is required")
		}

		answers, err := lookupCountries(path, args)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, a := range answers {
			country := a.Country
			if country == "" {
				country = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\n", a.IP, country)
		}
		return tw.Flush()
	},
}

func init() {
	geoipCmd.Flags().String("geodb", "", "Country database to query")
}

type geoipAnswer struct {
	IP      string
	Country string
}

// lookupCountries resolves every address of ips. All addresses are parsed
// before the database is opened.
func lookupCountries(path string, ips []string) ([]geoipAnswer, error) {
	parsed := make([]net.IP, len(ips))
	for i, s := range ips {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP address %q", s)
		}
		parsed[i] = ip
	}

	answers := make([]geoipAnswer, 0, len(ips))
	for i, ip := range parsed {
		country, _, err := geodb.Country(path, ip)
		if err != nil {
			return nil, err
		}
		answers = append(answers, geoipAnswer{IP: ips[i], Country: country})
	}
	return answers, nil
}
