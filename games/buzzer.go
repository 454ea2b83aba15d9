package games

// A host creates a game and shares the 4-character code (or the QR code) with players
// Players join with a name and a team, then race to press the buzzer
// The server records buzz arrival order per round; duplicates within a round are ignored
// The host sees the ordered buzz queue, clears it between rounds, and awards points by team
// Scores accumulate for the life of the game

// Lifecycle:
// - Identity is a client-generated token, kept in localStorage, stable across reloads
// - A dropped player has two minutes to return before their roster entry is removed
// - A dropped host has five minutes to return before the whole game ends
// - Host recovery requires the opaque token issued when the game was created

// Display formats:
// - Join page: name/team/code form plus one large buzzer button
// - Host page: roster count, ordered buzz list, per-team scores with award buttons
