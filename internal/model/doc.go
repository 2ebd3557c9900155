// Package model holds the item types shared by the correlation operators and
// the topology manager: underlay items as observed in one source topology,
// overlay items grouping equivalent underlay items under one correlation, and
// wrappers giving those groups a stable overlay identity.
package model
