// Command conveyor is the operator CLI for the batch extraction
// orchestrator: submitting jobs, inspecting status, and running jobs
// in-process without the daemon.
package main
