// Package safety implements the safety state machine that gates every
// motion command and every channel write.
//
// Observations raise or clear violations. Soft violations move the system
// to WARNING; hard violations force a latched EMERGENCY_STOP that only an
// explicit Reset can leave, and only once every hard violation has
// cleared. Every state change is delivered to the registered notifier.
package safety
