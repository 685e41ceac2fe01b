/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"github.com/hitzhangjie/dbgstub/pkg/platform"
)

// backend is what the commands need from the back-end of the host.
type backend interface {
	platform.Operations
	platform.Launcher

	// Attach starts debugging a running process.
	Attach(pid int) error
	// Close releases the back-end, e.g. its tracer thread.
	Close()
}
