// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package power implements the hypervisor actuator the capacity and
// health controllers use to power backends on/off and to hard-reset a
// blacklisted backend. It follows the same thin-interface-plus-logging-
// default shape as internal/persistence's Redis/Kafka clients: a
// LoggingHypervisor lets the control plane run end-to-end without a real
// hypervisor API, and a real client can be swapped in without touching
// call sites.
package power

import (
	"fmt"
	"time"

	"fabricctl/internal/model"
)

// Hypervisor is the minimal actuation surface the control plane needs.
type Hypervisor interface {
	PowerOn(backend model.Backend) error
	PowerOff(backend model.Backend) error
	HardReset(backend model.Backend) error
}

// LoggingHypervisor logs every actuation instead of calling a real
// hypervisor API. Not for production use.
type LoggingHypervisor struct{}

func (LoggingHypervisor) PowerOn(b model.Backend) error {
	fmt.Printf("[power-demo] %s POWER ON %s (%s)\n", time.Now().Format(time.RFC3339), b.ID, b.Address)
	return nil
}

func (LoggingHypervisor) PowerOff(b model.Backend) error {
	fmt.Printf("[power-demo] %s POWER OFF %s (%s)\n", time.Now().Format(time.RFC3339), b.ID, b.Address)
	return nil
}

func (LoggingHypervisor) HardReset(b model.Backend) error {
	fmt.Printf("[power-demo] %s HARD RESET %s (%s)\n", time.Now().Format(time.RFC3339), b.ID, b.Address)
	return nil
}

// Actuator adapts a Hypervisor to capacity.PowerActuator (PowerOn/PowerOff
// only) so the capacity package doesn't need to depend on HardReset, which
// is health-checker-only.
type Actuator struct {
	HV Hypervisor
}

func (a Actuator) PowerOn(b model.Backend) error  { return a.HV.PowerOn(b) }
func (a Actuator) PowerOff(b model.Backend) error { return a.HV.PowerOff(b) }
