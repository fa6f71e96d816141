package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/config"
	"github.com/NaturesProfit7/Warehouse-Automation/models"
)

type seedBlank struct {
	Sku     string
	Type    models.BlankType
	SizeMm  int
	Color   models.BlankColor
	Name    string
	Opening int
}

type seedMapping struct {
	ProductName  string
	SizeProperty string
	MetalColor   string
	BlankSku     string
}

// The workshop catalog: 20 SKUs across six shapes and two coatings, plus
// the mapping rules that translate shop listing names into them.
var blanks = []seedBlank{
	{"BLK-BONE-25-GLD", models.BlankTypeBone, 25, models.BlankColorGold, "кістка маленька", 200},
	{"BLK-BONE-25-SIL", models.BlankTypeBone, 25, models.BlankColorSilver, "кістка маленька", 200},
	{"BLK-BONE-30-GLD", models.BlankTypeBone, 30, models.BlankColorGold, "кістка велика", 200},
	{"BLK-BONE-30-SIL", models.BlankTypeBone, 30, models.BlankColorSilver, "кістка велика", 200},
	{"BLK-RING-25-GLD", models.BlankTypeRing, 25, models.BlankColorGold, "бублик 25мм", 200},
	{"BLK-RING-25-SIL", models.BlankTypeRing, 25, models.BlankColorSilver, "бублик 25мм", 200},
	{"BLK-RING-30-GLD", models.BlankTypeRing, 30, models.BlankColorGold, "бублик 30мм", 200},
	{"BLK-RING-30-SIL", models.BlankTypeRing, 30, models.BlankColorSilver, "бублик 30мм", 200},
	{"BLK-ROUND-20-GLD", models.BlankTypeRound, 20, models.BlankColorGold, "круглий 20мм", 200},
	{"BLK-ROUND-20-SIL", models.BlankTypeRound, 20, models.BlankColorSilver, "круглий 20мм", 200},
	{"BLK-ROUND-25-GLD", models.BlankTypeRound, 25, models.BlankColorGold, "круглий 25мм", 200},
	{"BLK-ROUND-25-SIL", models.BlankTypeRound, 25, models.BlankColorSilver, "круглий 25мм", 200},
	{"BLK-ROUND-30-GLD", models.BlankTypeRound, 30, models.BlankColorGold, "круглий 30мм", 200},
	{"BLK-ROUND-30-SIL", models.BlankTypeRound, 30, models.BlankColorSilver, "круглий 30мм", 200},
	{"BLK-HEART-25-GLD", models.BlankTypeHeart, 25, models.BlankColorGold, "серце", 200},
	{"BLK-HEART-25-SIL", models.BlankTypeHeart, 25, models.BlankColorSilver, "серце", 200},
	{"BLK-CLOUD-25-GLD", models.BlankTypeCloud, 25, models.BlankColorGold, "хмарка", 200},
	{"BLK-CLOUD-25-SIL", models.BlankTypeCloud, 25, models.BlankColorSilver, "хмарка", 200},
	{"BLK-FLOWER-25-GLD", models.BlankTypeFlower, 25, models.BlankColorGold, "квітка", 200},
	{"BLK-FLOWER-25-SIL", models.BlankTypeFlower, 25, models.BlankColorSilver, "квітка", 200},
}

var mappings = []seedMapping{
	{"Адресник бублик", "25 мм", "золото", "BLK-RING-25-GLD"},
	{"Адресник бублик", "25 мм", "срібло", "BLK-RING-25-SIL"},
	{"Адресник бублик", "30 мм", "золото", "BLK-RING-30-GLD"},
	{"Адресник бублик", "30 мм", "срібло", "BLK-RING-30-SIL"},
	{"Адресник фігурний", "серце", "золото", "BLK-HEART-25-GLD"},
	{"Адресник фігурний", "серце", "срібло", "BLK-HEART-25-SIL"},
	{"Адресник фігурний", "квітка", "золото", "BLK-FLOWER-25-GLD"},
	{"Адресник фігурний", "квітка", "срібло", "BLK-FLOWER-25-SIL"},
	{"Адресник фігурний", "хмарка", "золото", "BLK-CLOUD-25-GLD"},
	{"Адресник фігурний", "хмарка", "срібло", "BLK-CLOUD-25-SIL"},
	{"Адресник кістка", "маленька", "золото", "BLK-BONE-25-GLD"},
	{"Адресник кістка", "маленька", "срібло", "BLK-BONE-25-SIL"},
	{"Адресник кістка", "велика", "золото", "BLK-BONE-30-GLD"},
	{"Адресник кістка", "велика", "срібло", "BLK-BONE-30-SIL"},
	{"Адресник", "20 мм", "золото", "BLK-ROUND-20-GLD"},
	{"Адресник", "20 мм", "срібло", "BLK-ROUND-20-SIL"},
	{"Адресник", "25 мм", "золото", "BLK-ROUND-25-GLD"},
	{"Адресник", "25 мм", "срібло", "BLK-ROUND-25-SIL"},
	{"Адресник", "30 мм", "золото", "BLK-ROUND-30-GLD"},
	{"Адресник", "30 мм", "срібло", "BLK-ROUND-30-SIL"},
}

func main() {
	skipMappings := flag.Bool("skip-mappings", false, "Seed only the blank catalog")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	created := 0
	for _, b := range blanks {
		if existing, err := models.GetBlankBySku(ctx, b.Sku); err == nil && existing != nil {
			continue
		}
		input := models.NewBlank{
			BlankSku:     b.Sku,
			Type:         b.Type,
			SizeMm:       b.SizeMm,
			Color:        b.Color,
			Name:         b.Name,
			OpeningStock: b.Opening,
		}
		if _, err := models.CreateBlank(ctx, &input); err != nil {
			fmt.Fprintf(os.Stderr, "seed blank %s: %v\n", b.Sku, err)
			os.Exit(1)
		}
		created++
	}
	fmt.Printf("seeded %d blanks (%d already present)\n", created, len(blanks)-created)

	if *skipMappings {
		return
	}

	existing, err := models.ListActiveProductMappings(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list mappings: %v\n", err)
		os.Exit(1)
	}
	present := make(map[string]bool, len(existing))
	for _, m := range existing {
		present[m.ProductName+"|"+m.SizeProperty+"|"+m.MetalColor] = true
	}

	created = 0
	for _, m := range mappings {
		if present[m.ProductName+"|"+m.SizeProperty+"|"+m.MetalColor] {
			continue
		}
		input := models.NewProductMapping{
			ProductName:  m.ProductName,
			SizeProperty: m.SizeProperty,
			MetalColor:   m.MetalColor,
			BlankSku:     m.BlankSku,
		}
		if _, err := models.CreateProductMapping(ctx, &input); err != nil {
			fmt.Fprintf(os.Stderr, "seed mapping %s: %v\n", m.BlankSku, err)
			os.Exit(1)
		}
		created++
	}
	fmt.Printf("seeded %d mappings (%d already present)\n", created, len(mappings)-created)
}
