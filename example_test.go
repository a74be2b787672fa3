package poigo_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hupe1980/poigo"
	"github.com/hupe1980/poigo/geo"
	"github.com/hupe1980/poigo/metadata"
	"github.com/hupe1980/poigo/record"
)

func Example() {
	ctx := context.Background()

	db, err := poigo.New()
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	_, err = db.Insert(ctx, record.Record{
		Name:     "Cafe Einstein",
		Category: "cafe",
		Geometry: geo.NewPoint(52.5163, 13.3777),
		Attributes: metadata.Document{
			"stars": metadata.Int(5),
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	_, err = db.Insert(ctx, record.Record{
		Name:     "Pergamon Museum",
		Category: "museum",
		Geometry: geo.NewPoint(52.5212, 13.3966),
	})
	if err != nil {
		log.Fatal(err)
	}

	results, err := db.Query().
		Nearest(geo.Point{Lat: 52.52, Lon: 13.405}, 2).
		Execute(ctx)
	if err != nil {
		log.Fatal(err)
	}

	for _, res := range results {
		fmt.Println(res.Record.Name)
	}
	// Output:
	// Pergamon Museum
	// Cafe Einstein
}
