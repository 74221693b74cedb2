// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package faildetector

import (
	"time"

	"github.com/jscblack/oceanbase-dev/pkg/settings"
)

// DetectionInterval is the cadence of the failure detection loop.
var DetectionInterval = settings.RegisterDurationSetting(
	"failure_detector.detection.interval",
	"period between failure detection passes over the fault probes",
	100*time.Millisecond,
)

// RecoveryInterval is the cadence of the recovery detection loop.
var RecoveryInterval = settings.RegisterDurationSetting(
	"failure_detector.recovery.interval",
	"period between recovery predicate evaluation passes",
	time.Second,
)

// LogStorageWarningToleranceTime bounds how long a pending commit-log write
// may linger before the log disk is considered hung outright.
var LogStorageWarningToleranceTime = settings.RegisterDurationSetting(
	"failure_detector.log_storage.warning_tolerance_time",
	"duration a pending commit-log write may linger before the log disk is considered hung",
	5*time.Second,
)

// LogStorageWarningTriggerPercentage is the disk-hang detector's
// sensitivity: the error-ratio percentile in [0, 100]. Zero disables
// baseline-based hang detection.
var LogStorageWarningTriggerPercentage = settings.RegisterIntSetting(
	"failure_detector.log_storage.warning_trigger_percentage",
	"sensitivity of commit-log disk hang detection in [0, 100]; 0 disables baseline-based detection",
	0,
)
