// Command gaspconfigexport writes a default gaspsyncd configuration file.
package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bsv-blockchain/gasp-sync/pkg/gaspconfig"
)

var supportedExts = []string{"yaml", "yml", "json", "env", "dotenv"}

func main() {
	outputFile := flag.String("output-file", "gaspsyncd.yaml", "output configuration file path")
	flag.StringVar(outputFile, "o", "gaspsyncd.yaml", "output configuration file path (shorthand)")
	flag.Parse()

	ext := strings.TrimPrefix(filepath.Ext(*outputFile), ".")
	if !slices.Contains(supportedExts, ext) {
		log.Fatalf("unsupported output file extension: %s", ext)
	}

	loader := gaspconfig.NewLoader("GASP")

	var err error
	switch ext {
	case "json":
		err = loader.ToJSON(*outputFile)
	case "env", "dotenv":
		err = loader.ToEnv(*outputFile)
	default:
		err = loader.ToYAML(*outputFile)
	}
	if err != nil {
		log.Fatalf("error writing configuration: %v", err)
	}

	fmt.Printf("configuration written to %s\n", *outputFile)
}
