package usdc

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// AssetDecimals maps asset symbols to their base-unit decimal places.
var AssetDecimals = map[string]int{
	"USDC": 6,
	"SOL":  9,
	"ETH":  18,
}

// DecimalsForAsset returns the base-unit decimals for an asset symbol.
func DecimalsForAsset(asset string) int {
	if d, ok := AssetDecimals[asset]; ok {
		return d
	}
	return defaultUSDDecimals
}

// USDToBaseUnits converts a USD amount to the base units of the given asset,
// rendered as a decimal string for the x402 maxAmountRequired field.
//
// USDC converts directly (round to the nearest micro-USDC). SOL and ETH
// require the asset's USD price; fractional base units are floored.
func USDToBaseUnits(usd float64, asset string, assetUSDPrice float64) (string, error) {
	switch asset {
	case "USDC":
		return strconv.FormatInt(int64(FromFloat(usd)), 10), nil
	case "SOL":
		if assetUSDPrice <= 0 {
			return "", fmt.Errorf("usdc: invalid SOL price %v", assetUSDPrice)
		}
		lamports := math.Floor(usd / assetUSDPrice * 1e9)
		return strconv.FormatInt(int64(lamports), 10), nil
	case "ETH":
		if assetUSDPrice <= 0 {
			return "", fmt.Errorf("usdc: invalid ETH price %v", assetUSDPrice)
		}
		// 1e18 wei per ETH overflows float-to-int64 for large USD amounts,
		// so go through big.Float and floor.
		wei := new(big.Float).Quo(big.NewFloat(usd), big.NewFloat(assetUSDPrice))
		wei.Mul(wei, big.NewFloat(1e18))
		result, _ := wei.Int(nil)
		return result.String(), nil
	default:
		return "", fmt.Errorf("usdc: unsupported asset %q", asset)
	}
}

// BaseUnitsToUSD is the inverse of USDToBaseUnits, used for receipts.
func BaseUnitsToUSD(baseUnits string, asset string, assetUSDPrice float64) (float64, error) {
	v, ok := new(big.Float).SetString(baseUnits)
	if !ok {
		return 0, fmt.Errorf("usdc: cannot parse base units %q", baseUnits)
	}
	decimals := DecimalsForAsset(asset)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	v.Quo(v, scale)

	if asset != "USDC" {
		v.Mul(v, big.NewFloat(assetUSDPrice))
	}
	f, _ := v.Float64()
	return f, nil
}
