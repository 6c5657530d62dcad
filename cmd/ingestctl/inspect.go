package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fpang/speech-ingestion/internal/config"
	"github.com/fpang/speech-ingestion/internal/queue"
	"github.com/fpang/speech-ingestion/internal/retry"
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Show the configured speech endpoints and routing policy",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		fmt.Printf("Routing: %s\n", cfg.RoutingPolicy())
		fmt.Println(renderTable(
			[]string{"Name", "Region", "Role", "Weight", "Model", "Key"},
			endpointRows(cfg),
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
		))
	},
}

var delayCmd = &cobra.Command{
	Use:   "delay",
	Short: "Show the retry schedule for the configured retry policy",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		p := retry.PolicyFromConfig(loadConfig().Retry)
		fmt.Printf("Retry limit: %d, initial delay: %s, max delay: %s\n", p.RetryLimit, p.Initial, p.Max)
		fmt.Println(renderTable(
			[]string{"Retry count", "Outcome", "Delay", "Carried by"},
			delayRows(p),
			[]columnAlignment{alignRight, alignLeft, alignRight},
		))
	},
}

func endpointRows(cfg *config.Config) [][]string {
	rows := make([][]string, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		weight := "-"
		if ep.Role == config.RoleWeighted {
			weight = strconv.Itoa(ep.Weight) + "%"
		}
		model := ep.ModelID
		if model == "" {
			model = "base"
		}
		key := "missing"
		switch {
		case ep.Key != "":
			key = "set"
		case ep.KeyParam != "":
			key = "ssm:" + ep.KeyParam
		}
		rows = append(rows, []string{ep.Name, ep.Region, ep.Role, weight, model, key})
	}
	return rows
}

// delayRows lists the transition a retryable failure causes at each retry
// count, up to the first one that fails the file.
func delayRows(p retry.Policy) [][]string {
	rows := make([][]string, 0, p.RetryLimit+2)
	for n := 0; n <= p.RetryLimit+1; n++ {
		if n > p.RetryLimit {
			rows = append(rows, []string{strconv.Itoa(n), "fail", "-", "-"})
			break
		}
		d := retry.Delay(n, p)
		carrier := "queue delay"
		if d > queue.MaxDelay {
			carrier = "notBefore"
		}
		rows = append(rows, []string{strconv.Itoa(n), "re-queue", d.String(), carrier})
	}
	return rows
}
