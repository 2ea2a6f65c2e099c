// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

//go:build pcompute_example

// This file is only compiled into the race binary with -tags
// pcompute_example; examples/pcompute is demonstration code (spec §1 scope
// excludes it from the core), not something every deployment should link in
// just to get an actorclass.Lookup table populated. The examples/pcompute
// package is not present in this repository, so a build with this tag fails
// on the missing import.
package main

import _ "github.com/race-rt/race/examples/pcompute"
