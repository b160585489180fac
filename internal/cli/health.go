package cli

import (
	"fmt"
	"sync"
	"time"
)

type endpointHealth struct {
	Status  string
	Latency time.Duration
	Detail  string
}

var (
	checkGatewayFunc     = checkGateway
	checkFacilitatorFunc = checkFacilitator
)

// Health checks the gateway and its facilitator concurrently and prints a
// summary.
func Health(endpoint string) error {
	client := NewAPIClient(endpoint)

	var wg sync.WaitGroup
	var gatewayStatus endpointHealth
	var facilitatorStatus endpointHealth
	var health *HealthResponse

	wg.Add(2)
	go func() {
		defer wg.Done()
		gatewayStatus, health = checkGatewayFunc(client)
	}()
	go func() {
		defer wg.Done()
		facilitatorStatus = checkFacilitatorFunc(client)
	}()
	wg.Wait()

	fmt.Println()
	fmt.Println(titleStyle.Render("Tollgate Health"))

	fmt.Println(headerStyle.Render("Gateway:"))
	printHealthLine("API", endpoint, gatewayStatus)
	fmt.Println()

	fmt.Println(headerStyle.Render("Facilitator:"))
	printHealthLine("Payments", endpoint+"/facilitator", facilitatorStatus)
	fmt.Println()

	if health != nil {
		fmt.Println(headerStyle.Render("Providers:"))
		fmt.Printf("  Active:    %d\n", health.Providers.Active)
		fmt.Printf("  Degraded:  %d\n", health.Providers.Degraded)
		fmt.Printf("  Offline:   %d\n", health.Providers.Offline)
		if health.Providers.AverageLatency > 0 {
			fmt.Printf("  Latency:   %.0f ms avg\n", health.Providers.AverageLatency)
		}
		fmt.Println()
	}

	if gatewayStatus.Status != "up" {
		return fmt.Errorf("gateway is %s", gatewayStatus.Status)
	}
	return nil
}

func checkGateway(client *APIClient) (endpointHealth, *HealthResponse) {
	start := time.Now()
	health, err := client.Health()
	latency := time.Since(start)
	if err != nil {
		return endpointHealth{Status: "down", Latency: latency, Detail: err.Error()}, nil
	}

	switch health.Status {
	case "healthy":
		return endpointHealth{Status: "up", Latency: latency}, health
	case "degraded":
		return endpointHealth{Status: "degraded", Latency: latency, Detail: "reported degraded"}, health
	default:
		return endpointHealth{Status: "down", Latency: latency, Detail: fmt.Sprintf("reported %q", health.Status)}, health
	}
}

func checkFacilitator(client *APIClient) endpointHealth {
	start := time.Now()
	info, err := client.Facilitator()
	latency := time.Since(start)
	if err != nil {
		return endpointHealth{Status: "down", Latency: latency, Detail: err.Error()}
	}
	if !info.Available {
		return endpointHealth{Status: "down", Latency: latency, Detail: fmt.Sprintf("%s unavailable", info.Primary)}
	}
	detail := info.Primary
	if info.Fallback != "" {
		detail += " (fallback: " + info.Fallback + ")"
	}
	return endpointHealth{Status: "up", Latency: latency, Detail: detail}
}

func printHealthLine(name, target string, health endpointHealth) {
	fmt.Printf("  %-13s %s (%s)\n", name+":", statusText(health.Status), target)
	if health.Latency > 0 {
		fmt.Printf("    Latency: %s\n", health.Latency.Round(time.Millisecond))
	}
	if health.Detail != "" {
		fmt.Printf("    Detail:  %s\n", health.Detail)
	}
}
