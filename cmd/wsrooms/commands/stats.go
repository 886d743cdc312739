package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramory-l/wsrooms/relay"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats [URL]",
	Short: "Print stats from a wsrooms relay",
	Long: `stats queries the HTTP stats endpoint of a running relay.

If the URL is omitted, the local relay from the serve settings is queried.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := "http://" + viper.GetString("server.bind") + viper.GetString("server.statsPath")
		if len(args) > 0 {
			url = args[0]
		}
		out, err := newPrinter(cmd.OutOrStdout(), viper.GetString("stats.format"))
		if err != nil {
			return err
		}
		stats, err := getStats(url)
		if err != nil {
			return err
		}
		return out.Print(statsView{Stats: stats, Source: url})
	},
}

func init() {
	RootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringP("format", "f", formatText, "output format (text, json or yaml)")
	viper.BindPFlag("stats.format", statsCmd.Flags().Lookup("format"))

	viper.SetDefault("server.bind", "127.0.0.1:8080")
	viper.SetDefault("server.statsPath", "/stats")
}

type statsView struct {
	relay.Stats `yaml:",inline"`
	Source      string `json:"source" yaml:"source"`
}

func (v statsView) String() string {
	return fmt.Sprintf(`Stats for %s:
Uptime: %s
Number of rooms: %d
Number of peers: %d
Max peers: %d on %s
Frames relayed: %d, dropped: %d`,
		v.Source, v.Uptime.Round(time.Second),
		v.NumRooms, v.NumPeers,
		v.MaxPeers, v.MaxPeersTime.Format(time.RFC1123),
		v.FramesRelayed, v.FramesDropped)
}

func getStats(url string) (relay.Stats, error) {
	var stats relay.Stats

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return stats, errors.Wrap(err, "Connect to wsrooms relay")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, errors.Errorf("Server returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, errors.Wrap(err, "Get stats response from server")
	}
	return stats, nil
}
