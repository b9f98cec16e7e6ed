/*
Package jda is a joint cascade face detector, which classifies image regions as face or non-face
and regresses the facial landmarks of every accepted region with the same sequence of boosted carts.

The package drives the whole life cycle of a cascade: the multi-stage training with hard negative mining,
resumable checkpoints, the binary model format and the multi-scale sliding window detection.
The command line interface supports all of these operations. To check the supported flags type:

	$ jda --help

In case you wish to integrate the API in a self constructed environment here is a simple example:

	package main

	import (
		"fmt"
		"os"

		"github.com/esimov/jda"
		"github.com/esimov/jda/cart"
	)

	func main() {
		cfg := jda.DefaultConfig()
		c, err := jda.LoadModel("model/jda.model", cart.NewFactory(cfg))
		if err != nil {
			fmt.Printf("Error loading the model: %s", err.Error())
			os.Exit(1)
		}
		img, err := jda.DecodeImage("image.jpg")
		if err != nil {
			fmt.Printf("Error decoding the image: %s", err.Error())
			os.Exit(1)
		}
		res := c.Detect(jda.ToGray(img), cfg.ScanParams())
		fmt.Printf("Found %d faces\n", res.Count())
	}
*/
package jda
