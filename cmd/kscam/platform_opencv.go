//go:build opencv

package main

import (
	"github.com/krishisahay/camera-sdk-go/image"
	"github.com/krishisahay/camera-sdk-go/image/opencv"
)

func init() {
	newOpenCVPlatform = func() image.Platform {
		return opencv.New(&opencv.Opts{Logger: logger})
	}
}
