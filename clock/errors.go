// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package clock

import "errors"

var (
	errBackwardJumpNotPaused = errors.New("clock: backward jump requires Paused state and explicit opt-in")
	errNonPositiveScale      = errors.New("clock: scale must be > 0")
)
