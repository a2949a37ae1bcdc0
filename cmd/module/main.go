package main

import (
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	genericservice "go.viam.com/rdk/services/generic"

	"visualservo"
)

func main() {
	module.ModularMain(
		resource.APIModel{genericservice.API, visualservo.VisualServo},
		resource.APIModel{camera.API, visualservo.ServoCamera},
	)
}
