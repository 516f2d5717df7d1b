// Package database manages the GORM connection pool used by the relational
// backend: connection limits, a background health-check loop, and
// transactions (WithTransaction, which delete_memory's cascade runs in, and
// a retrying WithTransactionRetry variant).
package database
