// Package models holds the data types shared across the execution-governance
// pipeline: severities, intents, risk bands, lockdown states, guardian
// decisions and the denial error taxonomy.
package models
