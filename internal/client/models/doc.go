// Package models contains the wire types exchanged with the marketplace API.
package models
