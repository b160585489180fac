package cli

import (
	"fmt"
	"strings"
)

// Providers prints the gateway's provider registry.
func Providers(endpoint string) error {
	client := NewAPIClient(endpoint)

	resp, err := client.Providers()
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("Providers"))

	if resp.Count == 0 {
		fmt.Println(infoStyle.Render("  no providers registered"))
		return nil
	}

	fmt.Printf("  %-16s %-10s %-12s %-10s %-8s %s\n",
		headerStyle.Render("ID"), "STATUS", "COST/CALL", "LATENCY", "PRIO", "CHAINS")
	for _, p := range resp.Providers {
		latency := "-"
		if p.AverageLatency > 0 {
			latency = fmt.Sprintf("%.0f ms", p.AverageLatency)
		}
		fmt.Printf("  %-16s %-19s $%-11.5f %-10s %-8d %s\n",
			p.ID, statusText(p.Status), p.CostPerCall, latency, p.Priority,
			strings.Join(p.Chains, ","))
	}
	fmt.Println()
	return nil
}

// Facilitator prints the gateway's active facilitator selection.
func Facilitator(endpoint string) error {
	client := NewAPIClient(endpoint)

	info, err := client.Facilitator()
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("Facilitator"))
	fmt.Printf("  Primary:   %s\n", info.Primary)
	fmt.Printf("  Type:      %s\n", info.Type)
	if info.Fallback != "" {
		fmt.Printf("  Fallback:  %s\n", info.Fallback)
	}
	if info.Available {
		fmt.Printf("  Status:    %s\n", successStyle.Render("available"))
	} else {
		fmt.Printf("  Status:    %s\n", errorStyle.Render("unavailable"))
	}
	fmt.Println()
	return nil
}

// BatchPricing prints the batch offers for a chain.
func BatchPricing(endpoint, chain string) error {
	client := NewAPIClient(endpoint)

	resp, err := client.BatchPricing(chain)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(titleStyle.Render(fmt.Sprintf("Batch Pricing (%s)", resp.Chain)))

	if len(resp.Offers) == 0 {
		fmt.Println(infoStyle.Render("  no batch offers on this chain"))
		return nil
	}

	fmt.Printf("  %-16s %-8s %-12s %-14s %s\n",
		headerStyle.Render("PROVIDER"), "CALLS", "PRICE", "PER CALL", "SINGLE CALL")
	for _, o := range resp.Offers {
		fmt.Printf("  %-16s %-8d $%-11.4f $%-13.7f $%.5f\n",
			o.ProviderID, o.Calls, o.Price, o.PerCall, o.SinglePrice)
	}
	fmt.Println()
	return nil
}
